package fluxer

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Epoch is the first millisecond of snowflake time.
const Epoch = 1420070400000

// Snowflake is a platform ID. The top 42 bits are milliseconds since Epoch.
// It is encoded as a JSON string and decoded from a string or a number.
type Snowflake uint64

// ParseSnowflake parses a decimal snowflake.
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fluxer: invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

// SnowflakeFromTime returns the smallest snowflake created at t.
// Useful as a pagination bound.
func SnowflakeFromTime(t time.Time) Snowflake {
	ms := t.UnixMilli() - Epoch
	if ms < 0 {
		return 0
	}
	return Snowflake(uint64(ms) << 22)
}

// Time returns the creation time encoded in the snowflake.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli(int64(s>>22) + Epoch)
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalJSON implements json.Marshaler.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	v, err := ParseSnowflake(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
