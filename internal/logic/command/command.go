// Package command turns raw, user-supplied target angles into a complete
// target mapping for a synchronized move.
package command

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cjeanneret/ServoSync/internal/debug"
	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

// FormPrefix is the form field prefix of a channel angle ("ch0", "ch1", ...).
const FormPrefix = "ch"

// Request holds raw angle text per channel, as submitted by a front end.
type Request map[motion.Channel]string

// Resolution is a resolved target mapping plus what had to be corrected.
type Resolution struct {
	Targets   map[motion.Channel]float64
	Malformed []motion.Channel // fell back to the current angle
	Unknown   []motion.Channel // not configured, dropped
}

// Resolve builds targets for every channel in current. A channel missing
// from raw keeps its current angle, and so does one whose text is not a
// finite number. Range clamping is left to the interpolator.
func Resolve(current map[motion.Channel]float64, raw Request) Resolution {
	res := Resolution{Targets: make(map[motion.Channel]float64, len(current))}
	for ch, a := range current {
		res.Targets[ch] = a
	}
	for ch, text := range raw {
		cur, ok := current[ch]
		if !ok {
			res.Unknown = append(res.Unknown, ch)
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			debug.Verbose("ch%d: ignoring malformed angle %q, keeping %.2f", ch, text, cur)
			res.Malformed = append(res.Malformed, ch)
			continue
		}
		res.Targets[ch] = v
	}
	sortChannels(res.Malformed)
	sortChannels(res.Unknown)
	return res
}

// FromForm reads "ch<N>" fields. Other fields are ignored.
func FromForm(values url.Values) (Request, error) {
	req := make(Request)
	for key, vals := range values {
		if !strings.HasPrefix(key, FormPrefix) || len(vals) == 0 {
			continue
		}
		ch, err := parseChannel(strings.TrimPrefix(key, FormPrefix))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		req[ch] = vals[len(vals)-1]
	}
	return req, nil
}

// FromJSON reads {"angles": {"0": 120, "1": "100"}}. Values may be numbers
// or strings; anything else is kept as malformed text.
func FromJSON(data []byte) (Request, error) {
	var body struct {
		Angles map[string]json.RawMessage `json:"angles"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	req := make(Request, len(body.Angles))
	for key, raw := range body.Angles {
		ch, err := parseChannel(key)
		if err != nil {
			return nil, fmt.Errorf("angles key %q: %w", key, err)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			req[ch] = s
			continue
		}
		req[ch] = string(raw)
	}
	return req, nil
}

// ParseAssignments reads "0=120,1=100" from the command line.
func ParseAssignments(s string) (Request, error) {
	req := make(Request)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("assignment %q: want <channel>=<angle>", part)
		}
		ch, err := parseChannel(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("assignment %q: %w", part, err)
		}
		req[ch] = strings.TrimSpace(val)
	}
	if len(req) == 0 {
		return nil, fmt.Errorf("no channel assignments in %q", s)
	}
	return req, nil
}

func parseChannel(s string) (motion.Channel, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid channel %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative channel %d", n)
	}
	return motion.Channel(n), nil
}

func sortChannels(chs []motion.Channel) {
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
}
