package evadts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_CRLF(t *testing.T) {
	in := "DXS*SWR0010001*VA*V1/1*1\r\nST*001*0001\r\nG85*1234\r\n"

	lines, err := Read(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"DXS*SWR0010001*VA*V1/1*1", "ST*001*0001", "G85*1234"}, lines)
}

func TestRead_LFOnly(t *testing.T) {
	lines, err := Read(strings.NewReader("L1\nL2\nL3"))
	require.NoError(t, err)

	assert.Equal(t, []string{"L1", "L2", "L3"}, lines)
}

func TestRead_KeepsInteriorBlankLines(t *testing.T) {
	lines, err := Read(strings.NewReader("L1\n\nL3\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"L1", "", "L3"}, lines)
}

func TestRead_Empty(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReadLines_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evadts.txt")
	require.NoError(t, os.WriteFile(path, []byte("DXS*1\r\nSE*2*0001\r\n"), 0o644))

	lines, err := ReadLines(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"DXS*1", "SE*2*0001"}, lines)
}

func TestReadLines_Missing(t *testing.T) {
	_, err := ReadLines(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
