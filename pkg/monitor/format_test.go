package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeSuffix(t *testing.T) {
	cases := map[int64]string{
		-1:            "0 bytes",
		0:             "0 bytes",
		1:             "1.0 bytes",
		1023:          "1,023.0 bytes",
		1024:          "1.0 KB",
		1536:          "1.5 KB",
		1 << 20:       "1.0 MB",
		5 << 30:       "5.0 GB",
		1 << 60:       "1.0 EB",
		math.MaxInt64: "8.0 EB",
	}
	for in, want := range cases {
		assert.Equal(t, want, SizeSuffix(in), "SizeSuffix(%d)", in)
	}
}

func TestRateString(t *testing.T) {
	assert.Equal(t, "2.0 KB/s", RateString(2048))
	assert.Equal(t, "0 bytes/s", RateString(0))
}
