// Package ibmi provides a CDC source that reads row changes from an IBM i
// journal.
package ibmi

import (
	"fmt"
	"strings"
	"time"

	"github.com/janovincze/philotes-ibmi/internal/cdc/pipeline"
	"github.com/janovincze/philotes-ibmi/internal/cdc/source"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/ccsid"
	"github.com/janovincze/philotes-ibmi/internal/ibmi/receivers"
	"github.com/janovincze/philotes-ibmi/internal/journal"
	"github.com/janovincze/philotes-ibmi/internal/journal/retrieve"
)

// Config holds configuration for the IBM i journal source.
type Config struct {
	source.Config

	// Journal is the qualified journal name.
	Journal journal.ObjectName

	// MaxEntries caps the entries covered by one retrieval.
	MaxEntries uint64

	// BufferSize is the size of the retrieval buffer in bytes.
	BufferSize int

	// JournalCodes and EntryTypes restrict the entries retrieved. Empty
	// means all.
	JournalCodes []string
	EntryTypes   []string

	// Tables lists the tables to capture as SCHEMA.TABLE SQL names. Empty
	// means every table journaled to the journal.
	Tables []string

	// FailOnBufferTooSmall stops the source when one entry does not fit
	// the buffer instead of skipping it.
	FailOnBufferTooSmall bool

	// AllowChainBreak resumes at the oldest reliable receiver when the
	// position was cut off from the receiver chain by a break.
	AllowChainBreak bool

	// ResetOnReceiverLoss restarts from the beginning of the journal when
	// the position's receiver no longer exists. When false the source
	// fails instead.
	ResetOnReceiverLoss bool

	// PollInterval is the wait between retrievals that reached the end of
	// the journal.
	PollInterval time.Duration

	// Database is the relational database name that qualifies tables.
	Database string

	// DefaultCCSID decodes text columns without a CCSID.
	DefaultCCSID ccsid.CCSID

	// Location interprets date, time and timestamp columns.
	Location *time.Location

	// DeadLetterRetention is how long undecodable entries are kept.
	DeadLetterRetention time.Duration

	// Retry governs retrievals that fail transiently.
	Retry pipeline.RetryPolicy

	// Receivers configures the receiver directory queries.
	Receivers receivers.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	rc := retrieve.DefaultConfig()
	return Config{
		Config: source.Config{
			Name: "ibmi",
		},
		MaxEntries:          rc.MaxEntries,
		BufferSize:          rc.BufferSize,
		JournalCodes:        rc.JournalCodes,
		PollInterval:        5 * time.Second,
		DefaultCCSID:        ccsid.EBCDIC37,
		Location:            time.UTC,
		DeadLetterRetention: 7 * 24 * time.Hour,
		Retry:               pipeline.DefaultRetryPolicy(),
		Receivers:           receivers.DefaultConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Journal.Name == "" || c.Journal.Library == "" {
		return ErrMissingJournal
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	for _, t := range c.Tables {
		if _, _, err := splitTable(t); err != nil {
			return err
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	rc := c.retrieveConfig(nil)
	return rc.Validate()
}

// retrieveConfig returns the retriever configuration for the given file
// filter.
func (c *Config) retrieveConfig(files []journal.ObjectName) retrieve.Config {
	return retrieve.Config{
		Journal:              c.Journal,
		MaxEntries:           c.MaxEntries,
		BufferSize:           c.BufferSize,
		JournalCodes:         c.JournalCodes,
		EntryTypes:           c.EntryTypes,
		Files:                files,
		FailOnBufferTooSmall: c.FailOnBufferTooSmall,
	}
}

// splitTable splits a SCHEMA.TABLE name.
func splitTable(name string) (string, string, error) {
	schema, table, ok := strings.Cut(strings.TrimSpace(name), ".")
	if !ok || schema == "" || table == "" || strings.Contains(table, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return strings.ToUpper(schema), strings.ToUpper(table), nil
}
