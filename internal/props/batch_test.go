// ABOUTME: Tests for packing and unpacking property batches
// ABOUTME: Checks entry counts, length sums and rejection of inconsistent buffers

package props

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack_LengthsSumToValues(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"all absent", []Entry{{Type: TypeAbsent}, {Type: TypeAbsent}}},
		{"mixed", []Entry{
			{Type: TypeInt32, Data: []byte{1, 0, 0, 0}},
			{Type: TypeAbsent},
			{Type: TypeString8, Data: []byte("hello")},
			{Type: TypeBool, Data: []byte{1}},
			{Type: TypeUnicode, Data: []byte{'h', 0, 'i', 0}},
			{Type: TypeBytes, Data: []byte{0xFF, 0xD8, 0xFF}},
			{Type: TypeTime, Data: []byte("2024-01-02 03:04:05")},
		}},
		{"absent ignores stray data", []Entry{{Type: TypeAbsent, Data: []byte("junk")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Pack(tt.entries)

			assert.Equal(t, len(tt.entries), b.Len())
			assert.Len(t, b.Lengths, len(tt.entries))

			var sum int
			for _, n := range b.Lengths {
				sum += int(n)
			}
			assert.Equal(t, len(b.Values), sum)

			back, err := Unpack(b)
			require.NoError(t, err)
			require.Len(t, back, len(tt.entries))
			for i, e := range tt.entries {
				assert.Equal(t, e.Type, back[i].Type)
				if e.Type != TypeAbsent {
					assert.Equal(t, e.Data, back[i].Data)
				} else {
					assert.Empty(t, back[i].Data)
				}
			}
		})
	}
}

func TestUnpack_RejectsInconsistentBatches(t *testing.T) {
	tests := []struct {
		name  string
		batch Batch
	}{
		{"length count mismatch", Batch{Lengths: []uint32{0}, Types: []byte{0, 0}}},
		{"sum too small", Batch{Values: []byte("abc"), Lengths: []uint32{2}, Types: []byte{'s'}}},
		{"sum too large", Batch{Values: []byte("a"), Lengths: []uint32{2}, Types: []byte{'s'}}},
		{"int32 wrong width", Batch{Values: []byte{1, 2}, Lengths: []uint32{2}, Types: []byte{'l'}}},
		{"bool wrong width", Batch{Values: []byte{1, 2}, Lengths: []uint32{2}, Types: []byte{'B'}}},
		{"odd unicode", Batch{Values: []byte{1, 2, 3}, Lengths: []uint32{3}, Types: []byte{'u'}}},
		{"absent with data", Batch{Values: []byte{1}, Lengths: []uint32{1}, Types: []byte{0}}},
		{"unknown tag", Batch{Values: []byte{1}, Lengths: []uint32{1}, Types: []byte{'z'}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unpack(tt.batch)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestUnpack_EntriesDoNotOverlap(t *testing.T) {
	b := Pack([]Entry{
		{Type: TypeString8, Data: []byte("ab")},
		{Type: TypeString8, Data: []byte("cd")},
	})
	entries, err := Unpack(b)
	require.NoError(t, err)

	// Capacity is clipped so appending to one entry cannot clobber the next.
	grown := append(entries[0].Data, 'X')
	assert.Equal(t, "abX", string(grown))
	assert.Equal(t, "cd", string(entries[1].Data))
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "int32", TypeInt32.String())
	assert.Equal(t, "absent", TypeAbsent.String())
	assert.Equal(t, "type(0x7A)", Type('z').String())
}
