// Package checksum computes HDFS file checksums (MD5-of-MD5-of-CRC) on the
// client so a downloaded copy can be compared with the value the name-node
// reports for the stored file.
//
// The file checksum is md5(pad(concat over blocks of md5(concat over chunks
// of big-endian crc32(chunk)))), where chunks are BytesPerCRC long and never
// straddle a block boundary. pad appends zero bytes up to a power of two of
// at least 32 bytes, matching the buffer the data-nodes hash.
package checksum

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"regexp"
	"strconv"
)

// DefaultBytesPerCRC matches dfs.bytes-per-checksum.
const DefaultBytesPerCRC = 512

// CRCType selects the CRC polynomial used per chunk.
type CRCType int

const (
	// CRC32C (Castagnoli) is the HDFS default.
	CRC32C CRCType = iota
	// CRC32 is the IEEE polynomial used by older clusters.
	CRC32
)

func (t CRCType) String() string {
	if t == CRC32 {
		return "CRC32"
	}
	return "CRC32C"
}

func (t CRCType) table() *crc32.Table {
	if t == CRC32 {
		return crc32.IEEETable
	}
	return crc32.MakeTable(crc32.Castagnoli)
}

// ErrUnsupportedAlgorithm is returned for checksum algorithms other than
// MD5-of-MD5-of-CRC.
var ErrUnsupportedAlgorithm = errors.New("checksum: unsupported algorithm")

// Hasher accumulates a file checksum over streamed content.
type Hasher struct {
	bytesPerCRC int
	blockSize   int64
	crcType     CRCType

	crc       hash.Hash32
	blockMD5  hash.Hash
	fileMD5   hash.Hash
	chunkFill int
	blockFill int64
	blocks    int
	digestLen int
	done      bool
	sum       []byte
}

// NewHasher returns a Hasher for files stored with the given block size.
func NewHasher(bytesPerCRC int, blockSize int64, crcType CRCType) *Hasher {
	if bytesPerCRC <= 0 {
		bytesPerCRC = DefaultBytesPerCRC
	}
	if blockSize <= 0 {
		blockSize = 128 << 20
	}
	return &Hasher{
		bytesPerCRC: bytesPerCRC,
		blockSize:   blockSize,
		crcType:     crcType,
		crc:         crc32.New(crcType.table()),
		blockMD5:    md5.New(),
		fileMD5:     md5.New(),
	}
}

// Write feeds file content in order. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	if h.done {
		return 0, errors.New("checksum: write after Sum")
	}
	n := len(p)
	for len(p) > 0 {
		step := h.bytesPerCRC - h.chunkFill
		if rem := h.blockSize - h.blockFill; int64(step) > rem {
			step = int(rem)
		}
		if step > len(p) {
			step = len(p)
		}
		_, _ = h.crc.Write(p[:step])
		h.chunkFill += step
		h.blockFill += int64(step)
		p = p[step:]

		if h.blockFill == h.blockSize {
			h.finishBlock()
		} else if h.chunkFill == h.bytesPerCRC {
			h.finishChunk()
		}
	}
	return n, nil
}

func (h *Hasher) finishChunk() {
	if h.chunkFill == 0 {
		return
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], h.crc.Sum32())
	_, _ = h.blockMD5.Write(buf[:])
	h.crc.Reset()
	h.chunkFill = 0
}

func (h *Hasher) finishBlock() {
	h.finishChunk()
	if h.blockFill == 0 {
		return
	}
	digest := h.blockMD5.Sum(nil)
	_, _ = h.fileMD5.Write(digest)
	h.digestLen += len(digest)
	h.blockMD5.Reset()
	h.blockFill = 0
	h.blocks++
}

// Sum finalises the checksum and returns the 16-byte file MD5. Further writes fail.
func (h *Hasher) Sum() []byte {
	if !h.done {
		h.finishBlock()
		_, _ = h.fileMD5.Write(make([]byte, paddedLen(h.digestLen)-h.digestLen))
		h.sum = h.fileMD5.Sum(nil)
		h.done = true
	}
	return append([]byte(nil), h.sum...)
}

// paddedLen is the smallest power of two, at least 32, that holds n bytes.
func paddedLen(n int) int {
	padded := 32
	for padded < n {
		padded *= 2
	}
	return padded
}

// CRCPerBlock reports the value the name-node publishes in the algorithm
// name: zero for single-block files.
func (h *Hasher) CRCPerBlock() int64 {
	if h.blocks > 1 {
		return h.blockSize / int64(h.bytesPerCRC)
	}
	return 0
}

// Algorithm renders the algorithm name for the finished checksum.
func (h *Hasher) Algorithm() string {
	return AlgorithmName(h.CRCPerBlock(), h.bytesPerCRC, h.crcType)
}

// AlgorithmName renders e.g. "MD5-of-0MD5-of-512CRC32C".
func AlgorithmName(crcPerBlock int64, bytesPerCRC int, crcType CRCType) string {
	return fmt.Sprintf("MD5-of-%dMD5-of-%d%s", crcPerBlock, bytesPerCRC, crcType)
}

var algorithmPattern = regexp.MustCompile(`^MD5-of-(\d+)MD5-of-(\d+)(CRC32C?)$`)

// Algorithm describes a parsed algorithm name.
type Algorithm struct {
	CRCPerBlock int64
	BytesPerCRC int
	CRCType     CRCType
}

// ParseAlgorithm parses names produced by AlgorithmName.
func ParseAlgorithm(name string) (Algorithm, error) {
	m := algorithmPattern.FindStringSubmatch(name)
	if m == nil {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	crcPerBlock, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Algorithm{}, fmt.Errorf("checksum: parse crc per block: %w", err)
	}
	bytesPerCRC, err := strconv.Atoi(m[2])
	if err != nil {
		return Algorithm{}, fmt.Errorf("checksum: parse bytes per crc: %w", err)
	}
	alg := Algorithm{CRCPerBlock: crcPerBlock, BytesPerCRC: bytesPerCRC, CRCType: CRC32C}
	if m[3] == "CRC32" {
		alg.CRCType = CRC32
	}
	return alg, nil
}

// checksumBytesLen is int32 bytesPerCRC + int64 crcPerBlock + 16-byte MD5.
const checksumBytesLen = 4 + 8 + md5.Size

// EncodeBytes renders the serialized checksum as hex, as WebHDFS does.
func EncodeBytes(bytesPerCRC int, crcPerBlock int64, sum []byte) string {
	buf := make([]byte, 0, checksumBytesLen)
	buf = binary.BigEndian.AppendUint32(buf, uint32(bytesPerCRC))
	buf = binary.BigEndian.AppendUint64(buf, uint64(crcPerBlock))
	buf = append(buf, sum...)
	return hex.EncodeToString(buf)
}

// DecodeBytes parses the hex payload produced by EncodeBytes.
func DecodeBytes(s string) (bytesPerCRC int, crcPerBlock int64, sum []byte, err error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("checksum: decode hex: %w", err)
	}
	if len(raw) != checksumBytesLen {
		return 0, 0, nil, fmt.Errorf("checksum: expected %d bytes, got %d", checksumBytesLen, len(raw))
	}
	bytesPerCRC = int(binary.BigEndian.Uint32(raw[0:4]))
	crcPerBlock = int64(binary.BigEndian.Uint64(raw[4:12]))
	return bytesPerCRC, crcPerBlock, append([]byte(nil), raw[12:]...), nil
}
