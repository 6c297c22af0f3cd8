package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// StepTable maps a threshold temperature to the target humidity percentage
// that applies once the reference temperature is above that threshold.
type StepTable map[float64]float64

// Thresholds returns the thresholds in ascending order.
func (st StepTable) Thresholds() []float64 {
	keys := make([]float64, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}

// MarshalJSON encodes the table as an object keyed by the formatted
// thresholds, in ascending threshold order.
func (st StepTable) MarshalJSON() ([]byte, error) {
	if st == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range st.Thresholds() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(strconv.FormatFloat(k, 'f', -1, 64))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(st[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by numeric thresholds.
func (st *StepTable) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*st = nil
		return nil
	}
	out := make(StepTable, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(k, 64)
		if err != nil {
			return fmt.Errorf("invalid step threshold %q: %w", k, err)
		}
		out[f] = v
	}
	*st = out
	return nil
}
