package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OCAP2/copterviz/internal/geo"
	"github.com/OCAP2/copterviz/pkg/core"
)

// ErrMissingArgs is returned when a command has fewer arguments than it needs.
var ErrMissingArgs = errors.New("missing arguments")

// parseUintFromFloat parses a string that may be an integer ("32") or float ("32.00") into uint64.
// Feed producers that only have a float type may serialize counters that way.
func parseUintFromFloat(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("parseUintFromFloat: %q is not a valid uint64", s)
	}
	return uint64(f), nil
}

// maxSecondsStamp separates integer stamps in seconds from nanoseconds.
// 1e12 seconds is far past any real clock, and 1e12 nanoseconds is only
// sixteen minutes after the epoch.
const maxSecondsStamp = 1e12

// parseStamp accepts Unix nanoseconds ("1700000000123456789") or decimal
// seconds ("1700000000.123456789"). An integer below maxSecondsStamp is whole
// seconds; seconds reports that it was read that way.
func parseStamp(s string) (stamp time.Time, seconds bool, err error) {
	if !strings.Contains(s, ".") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid stamp %q: %w", s, err)
		}
		if n > -maxSecondsStamp && n < maxSecondsStamp {
			return time.Unix(n, 0).UTC(), true, nil
		}
		return time.Unix(0, n).UTC(), false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false, fmt.Errorf("invalid stamp %q", s)
	}
	sec := math.Floor(f)
	nsec := math.Round((f - sec) * 1e9)
	return time.Unix(int64(sec), int64(nsec)).UTC(), true, nil
}

// Parser provides pure []string -> core struct conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger     *slog.Logger
	fixedFrame string

	// seq numbers poses that arrive without one
	seq atomic.Uint32
}

// NewParser creates a parser. fixedFrame is used for poses with an empty frame id.
func NewParser(logger *slog.Logger, fixedFrame string) *Parser {
	return &Parser{
		logger:     logger,
		fixedFrame: fixedFrame,
	}
}

// ParsePose parses pose arguments:
//
//	0: frame id ("" for the fixed frame)
//	1: stamp
//	2: "x,y,z"
//	3: optional "qx,qy,qz,qw"
//	4: optional sequence number (may take slot 3 when orientation is omitted)
func (p *Parser) ParsePose(args []string) (core.Pose, error) {
	var pose core.Pose

	if len(args) < 3 {
		return pose, fmt.Errorf("pose needs frame, stamp and position, got %d args: %w", len(args), ErrMissingArgs)
	}

	pose.Header.FrameID = strings.TrimSpace(args[0])
	if pose.Header.FrameID == "" {
		pose.Header.FrameID = p.fixedFrame
	}

	stampArg := strings.TrimSpace(args[1])
	stamp, seconds, err := parseStamp(stampArg)
	if err != nil {
		return pose, fmt.Errorf("error parsing pose stamp: %w", err)
	}
	if seconds && !strings.Contains(stampArg, ".") {
		p.logger.Debug("Integer stamp read as seconds", "stamp", stampArg)
	}
	pose.Header.Stamp = stamp

	pose.Position, err = geo.Position3DFromString(args[2])
	if err != nil {
		return pose, fmt.Errorf("error parsing pose position %q: %w", args[2], err)
	}

	pose.Orientation = core.IdentityQuaternion
	rest := args[3:]
	if len(rest) > 0 && strings.Contains(rest[0], ",") {
		pose.Orientation, err = geo.QuaternionFromString(rest[0])
		if err != nil {
			return pose, fmt.Errorf("error parsing pose orientation %q: %w", rest[0], err)
		}
		rest = rest[1:]
	}

	if len(rest) > 0 {
		seq, err := parseUintFromFloat(strings.TrimSpace(rest[0]))
		if err != nil {
			return pose, fmt.Errorf("error parsing pose seq %q: %w", rest[0], err)
		}
		if seq > math.MaxUint32 {
			return pose, fmt.Errorf("pose seq %d out of range", seq)
		}
		pose.Header.Seq = uint32(seq)
		p.seq.Store(uint32(seq))
	} else {
		pose.Header.Seq = p.seq.Add(1)
	}

	p.logger.Debug("Parsed pose",
		"frame", pose.Header.FrameID,
		"seq", pose.Header.Seq)

	return pose, nil
}

// ParseShape parses a shape detection. Unknown names are not an error: ok is
// false and the event should be ignored.
func (p *Parser) ParseShape(args []string) (kind core.ShapeKind, ok bool, err error) {
	if len(args) < 1 {
		return 0, false, fmt.Errorf("shape needs a name: %w", ErrMissingArgs)
	}
	kind, ok = core.ParseShapeKind(args[0])
	if !ok {
		p.logger.Debug("Ignoring unknown shape", "name", args[0])
	}
	return kind, ok, nil
}
