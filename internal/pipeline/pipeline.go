// Package pipeline defines the durable state of a document's ingestion:
// the ordered step list, per-step progress, the artifact ledger, and the
// small queue message that references a pipeline from a work item.
//
// The JSON form of State is a compatibility surface; see state file format
// in the service documentation. The state file is the source of truth for
// pipeline progress: orchestrators never advance a queue before the state
// write has committed.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpl-au/memd/internal/tags"
)

// Step names of the standard handler chain.
const (
	StepExtract               = "extract"
	StepPartition             = "partition"
	StepGenEmbeddings         = "gen_embeddings"
	StepGenEmbeddingsParallel = "gen_embeddings_parallel"
	StepSaveRecords           = "save_records"
	StepSummarize             = "summarize"
	StepDeleteDocument        = "delete_document"
	StepDeleteIndex           = "delete_index"
)

// DefaultSteps is the standard ingestion chain applied when a request
// declares no steps.
func DefaultSteps() []string {
	return []string{StepExtract, StepPartition, StepGenEmbeddings, StepSaveRecords}
}

// DeletionSteps is the chain a document is switched to when deletion is
// requested.
func DeletionSteps() []string {
	return []string{StepDeleteDocument}
}

// ErrStepMismatch indicates an attempt to complete a step that is not the
// first remaining one.
var ErrStepMismatch = errors.New("step is not the next remaining step")

// ArtifactType classifies a file attached to a pipeline.
type ArtifactType string

const (
	ArtifactSource    ArtifactType = "source"
	ArtifactExtracted ArtifactType = "extracted"
	ArtifactPartition ArtifactType = "partition"
	ArtifactEmbedding ArtifactType = "embedding"
	ArtifactSynthetic ArtifactType = "synthetic"
)

// FileDescriptor describes one source file or generated artifact.
// Generated artifacts carry a back-reference to the step that produced
// them (GeneratedBy) and the file they derive from (SourceFile), which is
// how re-runs detect already-produced work. Partition numbers are 1-based;
// section numbers are 0-based.
type FileDescriptor struct {
	Name            string       `json:"name"`
	Size            int64        `json:"size"`
	MimeType        string       `json:"mime_type"`
	ArtifactType    ArtifactType `json:"artifact_type"`
	GeneratedBy     string       `json:"generated_by,omitempty"`
	SourceFile      string       `json:"source_file,omitempty"`
	PartitionNumber int          `json:"part_n,omitempty"`
	SectionNumber   int          `json:"sect_n,omitempty"`
	ContentSHA      string       `json:"content_sha,omitempty"`
}

// State is the durable record of a document's ingestion progress.
//
// Invariants: CompletedSteps is a strict prefix of Steps; RemainingSteps
// is Steps minus CompletedSteps in order; once TerminalError is set the
// state is terminal and only deletion may touch it again.
type State struct {
	Index          string           `json:"index"`
	DocumentID     string           `json:"document_id"`
	ExecutionID    string           `json:"execution_id"`
	Steps          []string         `json:"steps"`
	RemainingSteps []string         `json:"remaining_steps"`
	CompletedSteps []string         `json:"completed_steps"`
	Files          []FileDescriptor `json:"files"`
	Tags           tags.Collection  `json:"tags"`
	Creation       time.Time        `json:"creation"`
	LastUpdate     time.Time        `json:"last_update"`
	FailedAttempts int              `json:"failed_attempts"`
	TerminalError  string           `json:"terminal_error,omitempty"`
}

// NewState returns a freshly admitted pipeline with a new execution id.
func NewState(index, documentID string, steps []string, tc tags.Collection) *State {
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	if tc == nil {
		tc = tags.New()
	}
	now := time.Now().UTC()
	return &State{
		Index:          index,
		DocumentID:     documentID,
		ExecutionID:    uuid.NewString(),
		Steps:          append([]string(nil), steps...),
		RemainingSteps: append([]string(nil), steps...),
		CompletedSteps: []string{},
		Files:          []FileDescriptor{},
		Tags:           tc.Clone(),
		Creation:       now,
		LastUpdate:     now,
	}
}

// NextStep returns the first remaining step, or "" when the pipeline is
// complete.
func (s *State) NextStep() string {
	if len(s.RemainingSteps) == 0 {
		return ""
	}
	return s.RemainingSteps[0]
}

// Complete reports whether every step has run.
func (s *State) Complete() bool {
	return len(s.RemainingSteps) == 0
}

// Failed reports whether the pipeline recorded a terminal error.
func (s *State) Failed() bool {
	return s.TerminalError != ""
}

// Deleting reports whether the pipeline was switched to the deletion chain.
func (s *State) Deleting() bool {
	return len(s.Steps) > 0 && (s.Steps[0] == StepDeleteDocument || s.Steps[0] == StepDeleteIndex)
}

// CompleteStep moves step from the head of RemainingSteps to the tail of
// CompletedSteps. Completing any other step is an invariant violation.
func (s *State) CompleteStep(step string) error {
	if s.NextStep() != step {
		return fmt.Errorf("%w: completing %q, next is %q", ErrStepMismatch, step, s.NextStep())
	}
	s.CompletedSteps = append(s.CompletedSteps, step)
	s.RemainingSteps = s.RemainingSteps[1:]
	s.Touch()
	return nil
}

// Fail records a terminal error, freezing the pipeline.
func (s *State) Fail(err error) {
	s.TerminalError = err.Error()
	s.Touch()
}

// Touch updates the last-update timestamp.
func (s *State) Touch() {
	s.LastUpdate = time.Now().UTC()
}

// AddFile appends a file descriptor to the artifact ledger, replacing any
// existing descriptor with the same name so re-runs stay idempotent.
func (s *State) AddFile(fd FileDescriptor) {
	for i := range s.Files {
		if s.Files[i].Name == fd.Name {
			s.Files[i] = fd
			s.Touch()
			return
		}
	}
	s.Files = append(s.Files, fd)
	s.Touch()
}

// FilesOfType returns descriptors of one artifact type, in ledger order.
func (s *State) FilesOfType(t ArtifactType) []FileDescriptor {
	var out []FileDescriptor
	for _, fd := range s.Files {
		if fd.ArtifactType == t {
			out = append(out, fd)
		}
	}
	return out
}

// HasArtifact reports whether a step already produced an artifact derived
// from sourceFile with the given partition number. Handlers use this to
// skip work a previous (possibly crashed) run completed.
func (s *State) HasArtifact(generatedBy, sourceFile string, partN int) bool {
	for _, fd := range s.Files {
		if fd.GeneratedBy == generatedBy && fd.SourceFile == sourceFile && fd.PartitionNumber == partN {
			return true
		}
	}
	return false
}

// FindFile returns the descriptor with the given name.
func (s *State) FindFile(name string) (FileDescriptor, bool) {
	for _, fd := range s.Files {
		if fd.Name == name {
			return fd, true
		}
	}
	return FileDescriptor{}, false
}

// Reset prepares the state for re-execution with new steps, keeping the
// source file ledger and creation time but clearing progress.
func (s *State) Reset(steps []string) {
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	s.ExecutionID = uuid.NewString()
	s.Steps = append([]string(nil), steps...)
	s.RemainingSteps = append([]string(nil), steps...)
	s.CompletedSteps = []string{}
	s.FailedAttempts = 0
	s.TerminalError = ""
	s.Touch()
}
