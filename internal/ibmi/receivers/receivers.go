// Package receivers lists journal receivers and reads their sequence bounds
// through host program calls.
package receivers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/hostcall"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/wire"
)

// ErrDirectoryTooLarge is returned when the receiver directory does not fit
// in the largest allowed buffer.
var ErrDirectoryTooLarge = errors.New("receivers: receiver directory exceeds maximum buffer size")

// Config holds receiver source configuration.
type Config struct {
	// Journal is the journal whose receivers are listed.
	Journal journal.ObjectName

	// InfoBufferSize is the initial size of the journal information buffer.
	InfoBufferSize int

	// MaxInfoBufferSize caps the buffer when the directory does not fit.
	MaxInfoBufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InfoBufferSize:    64 * 1024,
		MaxInfoBufferSize: 16 * 1024 * 1024,
	}
}

// Source reads receiver information of one journal. It keeps no state and
// is safe for concurrent use.
type Source struct {
	caller hostcall.Caller
	config Config
	logger *slog.Logger
}

// New creates a new receiver source.
func New(caller hostcall.Caller, cfg Config, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InfoBufferSize < wire.JournalInfoHeaderSize {
		cfg.InfoBufferSize = DefaultConfig().InfoBufferSize
	}
	if cfg.MaxInfoBufferSize < cfg.InfoBufferSize {
		cfg.MaxInfoBufferSize = cfg.InfoBufferSize
	}

	return &Source{
		caller: caller,
		config: cfg,
		logger: logger.With("component", "journal-receivers", "journal", cfg.Journal.String()),
	}
}

// JournalInfo reads the journal's attached receiver and receiver directory,
// growing the buffer until the whole directory fits.
func (s *Source) JournalInfo(ctx context.Context) (wire.JournalInfo, error) {
	name, err := wire.QualifiedName(s.config.Journal)
	if err != nil {
		return wire.JournalInfo{}, fmt.Errorf("encode journal name: %w", err)
	}
	format, err := ccsid.Pad(wire.JournalInfoFormat, 8)
	if err != nil {
		return wire.JournalInfo{}, err
	}

	size := s.config.InfoBufferSize
	for {
		outputs, err := s.caller.Call(ctx, hostcall.ProgramCall{
			Library:   wire.RetrieveLibrary,
			Program:   wire.JournalInfoProgram,
			Procedure: wire.JournalInfoProc,
			Params: []hostcall.Param{
				hostcall.Out("receiver", size),
				hostcall.In("length", wire.PutInt32(size)),
				hostcall.In("journal", name),
				hostcall.In("format", format),
			},
		})
		if err != nil {
			return wire.JournalInfo{}, err
		}
		if len(outputs) == 0 {
			return wire.JournalInfo{}, hostcall.ErrOutputMismatch
		}

		info, err := wire.DecodeJournalInfo(outputs[0])
		if err != nil {
			return wire.JournalInfo{}, fmt.Errorf("decode journal information: %w", err)
		}
		if info.Complete(size) {
			return info, nil
		}

		if size >= s.config.MaxInfoBufferSize {
			return wire.JournalInfo{}, fmt.Errorf("%w: %d bytes needed", ErrDirectoryTooLarge, info.BytesAvailable)
		}
		s.logger.Debug("receiver directory truncated, growing buffer",
			"size", size,
			"available", info.BytesAvailable,
		)
		size = min(max(info.BytesAvailable, size*2), s.config.MaxInfoBufferSize)
	}
}

// ListReceivers returns the journal's receiver directory.
func (s *Source) ListReceivers(ctx context.Context) ([]journal.ReceiverInfo, error) {
	info, err := s.JournalInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.Receivers, nil
}

// ReceiverDetails returns the sequence bounds and successor of a receiver.
func (s *Source) ReceiverDetails(ctx context.Context, info journal.ReceiverInfo) (journal.DetailedReceiver, error) {
	name, err := wire.QualifiedName(journal.ObjectName(info.Receiver))
	if err != nil {
		return journal.DetailedReceiver{}, fmt.Errorf("encode receiver name: %w", err)
	}
	format, err := ccsid.Pad(wire.ReceiverInfoFormat, 8)
	if err != nil {
		return journal.DetailedReceiver{}, err
	}

	outputs, err := s.caller.Call(ctx, hostcall.ProgramCall{
		Library: wire.RetrieveLibrary,
		Program: wire.ReceiverInfoProgram,
		Params: []hostcall.Param{
			hostcall.Out("receiver", wire.ReceiverDetailsSize),
			hostcall.In("length", wire.PutInt32(wire.ReceiverDetailsSize)),
			hostcall.In("format", format),
			hostcall.In("receiver_name", name),
		},
	})
	if err != nil {
		return journal.DetailedReceiver{}, err
	}
	if len(outputs) == 0 {
		return journal.DetailedReceiver{}, hostcall.ErrOutputMismatch
	}

	d, err := wire.DecodeReceiverDetails(outputs[0], info)
	if err != nil {
		return journal.DetailedReceiver{}, fmt.Errorf("decode receiver %s: %w", info.Receiver, err)
	}
	return d, nil
}

// AttachedReceiver returns the currently attached receiver, read fresh from
// the host.
func (s *Source) AttachedReceiver(ctx context.Context) (journal.DetailedReceiver, error) {
	info, err := s.JournalInfo(ctx)
	if err != nil {
		return journal.DetailedReceiver{}, err
	}
	if info.Attached.IsZero() {
		return journal.DetailedReceiver{}, fmt.Errorf("journal %s has no attached receiver", s.config.Journal)
	}

	dir := journal.ReceiverInfo{Receiver: info.Attached, Status: journal.StatusAttached}
	for _, r := range info.Receivers {
		if r.Receiver == info.Attached {
			dir = r
			break
		}
	}

	d, err := s.ReceiverDetails(ctx, dir)
	if err != nil {
		return journal.DetailedReceiver{}, err
	}
	if d.Info.Status != journal.StatusAttached {
		s.logger.Warn("attached receiver reports a detached status",
			"receiver", d.Receiver().String(),
			"status", d.Info.Status.String(),
		)
	}
	return d, nil
}
