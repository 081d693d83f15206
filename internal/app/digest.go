package app

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/rjboer/GoEcho/internal/dsp"
)

// InputDigest fingerprints a search's inputs with BLAKE2b-256 so identical frames can be
// recognized in reports and telemetry. Every value is hashed little-endian.
func InputDigest(signal []complex128, code []float64, cfg dsp.Config) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only a key longer than 64 bytes fails; none is used.
		panic(err)
	}
	d := digester{h: h}
	d.putFloat(cfg.DopplerMin)
	d.putFloat(cfg.DopplerMax)
	d.putFloat(cfg.DopplerStep)
	d.putFloat(cfg.SamplePeriod)
	d.putUint(uint64(cfg.Method))
	d.putUint(uint64(len(code)))
	for _, c := range code {
		d.putFloat(c)
	}
	d.putUint(uint64(len(signal)))
	for _, s := range signal {
		d.putFloat(real(s))
		d.putFloat(imag(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type digester struct {
	h   hash.Hash
	buf [8]byte
}

func (d *digester) putUint(v uint64) {
	binary.LittleEndian.PutUint64(d.buf[:], v)
	d.h.Write(d.buf[:])
}

func (d *digester) putFloat(v float64) { d.putUint(math.Float64bits(v)) }
