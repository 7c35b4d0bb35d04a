package go_wal

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"testing"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_writeToMemBuffer(t *testing.T) {
	type param struct {
		testName string
		data     []byte
		pageInfo *Page

		expectedSize   int64
		expectedPos    *Position
		expectedPage   *Page
		expectedRecord []byte
	}

	testCases := []param{
		{
			testName: "write small data, without padding",
			data:     generateBytes(10),
			pageInfo: &Page{Id: 1, TotalBlockCount: 1, LastBlockSize: 21 * 1024},
			expectedSize: 17,
			expectedPos: &Position{PageId: 1, BlockNumber: 1, Offset: 21 * 1024},
			expectedPage: &Page{Id: 1, TotalBlockCount: 1, LastBlockSize: 21*1024 + 17},
			expectedRecord: []byte{byte(FullType)},
		},
		{
			testName: "write small data, with padding",
			data:     generateBytes(10),
			pageInfo: &Page{Id: 1, TotalBlockCount: 1, LastBlockSize: 32*1024 - 5},
			expectedSize: 22,
			expectedPos: &Position{PageId: 1, BlockNumber: 2, Offset: 0},
			expectedPage: &Page{Id: 1, TotalBlockCount: 2, LastBlockSize: 17},
			expectedRecord: []byte{byte(FullType)},
		},
		{
			testName: "write big data spanning three blocks",
			data:     generateBytes(70 * 1024),
			pageInfo: &Page{Id: 1, TotalBlockCount: 1, LastBlockSize: 15 * 1024},
			expectedPos: &Position{PageId: 1, BlockNumber: 1, Offset: 15 * 1024},
			expectedRecord: []byte{byte(FirstType), byte(MiddleType), byte(LastType)},
		},
	}

	for i, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			storage := go_fs.NewInmemStorage()
			writer, _, err := storage.Create(go_fs.TypeWAL, int64(i))
			require.NoError(t, err)
			p := tc.pageInfo
			p.writer = writer

			var buf []byte
			pos, size, err := p.writeToMemBuffer(tc.data, &buf)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedPos, pos)
			if tc.expectedSize != 0 {
				assert.Equal(t, tc.expectedSize, size)
			}
			if tc.expectedPage != nil {
				assert.Equal(t, tc.expectedPage.TotalBlockCount, p.TotalBlockCount)
				assert.Equal(t, tc.expectedPage.LastBlockSize, p.LastBlockSize)
			}

			assertFragments(t, buf, tc.data, tc.expectedRecord)
			require.NoError(t, storage.Close())
		})
	}
}

// assertFragments walks buf skipping any leading zero padding (a run of
// zero bytes shorter than one header), then checks each fragment's
// header/type/payload against expectations.
func assertFragments(t *testing.T, buf, expectedData, expectedRecord []byte) {
	start := 0
	for start < headerSize && len(buf)-start >= headerSize && buf[start] == 0 {
		length := int(binary.LittleEndian.Uint16(buf[start+4 : start+6]))
		end := start + headerSize + length
		if end <= len(buf) && binary.LittleEndian.Uint32(buf[start:start+4]) == checksummer.Checksum(buf[start+headerSize:end], buf[start+6]) {
			break
		}
		start++
	}
	startData, startRec := 0, 0
	for startData < len(expectedData) {
		header := buf[start : start+headerSize]
		dataLen := binary.LittleEndian.Uint16(header[4:6])
		recType := header[6]
		assert.Equal(t, expectedRecord[startRec], recType, fmt.Sprintf("fragment %d type", startRec))

		data := buf[start+headerSize : start+headerSize+int(dataLen)]
		assert.Equal(t, expectedData[startData:startData+int(dataLen)], data)

		start += headerSize + int(dataLen)
		startData += int(dataLen)
		startRec++
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func generateBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
