package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-faster/city"
)

// SignAlgorithm 签名哈希算法
type SignAlgorithm string

const (
	SignCity64   SignAlgorithm = "city64"
	SignXXHash64 SignAlgorithm = "xxhash64"
)

// Signer 帧签名器：hash64(secret ++ timestamp(u64 LE) ++ body)
type Signer struct {
	secret []byte
	alg    SignAlgorithm
}

// NewSigner 创建签名器
func NewSigner(secret string, alg SignAlgorithm) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty signing secret")
	}
	switch alg {
	case "":
		alg = SignCity64
	case SignCity64, SignXXHash64:
	default:
		return nil, fmt.Errorf("unknown sign algorithm %q", alg)
	}
	return &Signer{secret: []byte(secret), alg: alg}, nil
}

// Algorithm 返回签名算法
func (s *Signer) Algorithm() SignAlgorithm {
	return s.alg
}

// Sign 计算签名
func (s *Signer) Sign(timestamp uint64, body []byte) uint64 {
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestamp)

	if s.alg == SignXXHash64 {
		d := xxhash.New()
		d.Write(s.secret)
		d.Write(ts[:])
		d.Write(body)
		return d.Sum64()
	}

	buf := make([]byte, 0, len(s.secret)+len(ts)+len(body))
	buf = append(buf, s.secret...)
	buf = append(buf, ts[:]...)
	buf = append(buf, body...)
	return city.Hash64(buf)
}

// Verify 校验签名
func (s *Signer) Verify(timestamp uint64, body []byte, signature uint64) bool {
	return s.Sign(timestamp, body) == signature
}
