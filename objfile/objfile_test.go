package objfile

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildNote(order binary.ByteOrder, name string, desc []byte) []byte {
	nameBytes := append([]byte(name), 0)
	for len(nameBytes)%4 != 0 {
		nameBytes = append(nameBytes, 0)
	}

	buf := make([]byte, 12)
	order.PutUint32(buf[0:4], uint32(len(name)+1))
	order.PutUint32(buf[4:8], uint32(len(desc)))
	order.PutUint32(buf[8:12], 3) // NT_GNU_BUILD_ID
	buf = append(buf, nameBytes...)
	buf = append(buf, desc...)
	return buf
}

func TestParseBuildIDNote(t *testing.T) {
	desc := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	data := buildNote(binary.LittleEndian, "GNU", desc)

	got := parseBuildIDNote(data, binary.LittleEndian)
	require.Equal(t, "deadbeef0102", got)
}

func TestParseBuildIDNoteTruncatedReturnsEmpty(t *testing.T) {
	require.Equal(t, "", parseBuildIDNote([]byte{1, 2, 3}, binary.LittleEndian))
}

func TestParseBuildIDNoteBadDescSizeReturnsEmpty(t *testing.T) {
	data := buildNote(binary.LittleEndian, "GNU", []byte{1, 2, 3, 4})
	// truncate the descriptor out from under the claimed descsz.
	data = data[:len(data)-2]

	require.Equal(t, "", parseBuildIDNote(data, binary.LittleEndian))
}

func TestAlign4(t *testing.T) {
	require.Equal(t, 0, align4(0))
	require.Equal(t, 4, align4(1))
	require.Equal(t, 4, align4(4))
	require.Equal(t, 8, align4(5))
}
