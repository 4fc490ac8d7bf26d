package domain

import (
	"fmt"

	"github.com/mj-trademark/portal/internal/trademark"
)

// Status is a case lifecycle status.
type Status string

const (
	StatusDraft                         Status = "DRAFT"
	StatusTrademarkRegistered           Status = "TRADEMARK_REGISTERED"
	StatusPreliminaryResearchInProgress Status = "PRELIMINARY_RESEARCH_IN_PROGRESS"
	StatusResearchResultShared          Status = "RESEARCH_RESULT_SHARED"
	StatusPreparingApplication          Status = "PREPARING_APPLICATION"
	StatusApplicationConfirmed          Status = "APPLICATION_CONFIRMED"
	StatusApplicationSubmitted          Status = "APPLICATION_SUBMITTED"
	StatusUnderExamination              Status = "UNDER_EXAMINATION"
	StatusOAReceived                    Status = "OA_RECEIVED"
	StatusRespondingToOA                Status = "RESPONDING_TO_OA"
	StatusFinalResultReceived           Status = "FINAL_RESULT_RECEIVED"
	StatusPayingRegistrationFee         Status = "PAYING_REGISTRATION_FEE"
	StatusRegistrationCompleted         Status = "REGISTRATION_COMPLETED"
	StatusAwaitingRenewal               Status = "AWAITING_RENEWAL"
	StatusInDispute                     Status = "IN_DISPUTE"
	StatusRejected                      Status = "REJECTED"
	StatusAbandoned                     Status = "ABANDONED"
)

// ProgressStages is the number of steps in the progress bar.
const ProgressStages = 6

// StatusInfo is one row of the lifecycle table.
type StatusInfo struct {
	Value Status `json:"value"`
	Label string `json:"label"`
	// Stage is the 1-based progress stage, 0 for statuses off the bar.
	Stage int `json:"stage"`
	// CompletesStage marks statuses that render their stage as done.
	CompletesStage bool `json:"completesStage,omitempty"`
	Terminal       bool `json:"terminal,omitempty"`
}

// statusTable is the single source of truth for validation and display.
// Order matters: it is the order statuses are offered in.
var statusTable = []StatusInfo{
	{Value: StatusDraft, Label: "下書き", Stage: 1},
	{Value: StatusTrademarkRegistered, Label: "新規商標済", Stage: 2},
	{Value: StatusPreliminaryResearchInProgress, Label: "事前調査中", Stage: 2},
	{Value: StatusResearchResultShared, Label: "調査結果共有", Stage: 2},
	{Value: StatusPreparingApplication, Label: "出願準備中", Stage: 3},
	{Value: StatusApplicationConfirmed, Label: "願書確定", Stage: 3},
	{Value: StatusApplicationSubmitted, Label: "出願受付済", Stage: 3},
	{Value: StatusUnderExamination, Label: "審査中", Stage: 4},
	{Value: StatusOAReceived, Label: "OA受領", Stage: 5},
	{Value: StatusRespondingToOA, Label: "中間対応中", Stage: 5},
	{Value: StatusFinalResultReceived, Label: "最終結果受領", Stage: 6},
	{Value: StatusPayingRegistrationFee, Label: "登録料納付中", Stage: 6},
	{Value: StatusRegistrationCompleted, Label: "登録完了", Stage: 6, CompletesStage: true, Terminal: true},
	{Value: StatusAwaitingRenewal, Label: "更新待ち", Stage: 6, CompletesStage: true, Terminal: true},
	{Value: StatusInDispute, Label: "係争中", Terminal: true},
	{Value: StatusRejected, Label: "拒絶確定", Terminal: true},
	{Value: StatusAbandoned, Label: "放棄", Terminal: true},
}

var statusIndex = func() map[Status]StatusInfo {
	m := make(map[Status]StatusInfo, len(statusTable))
	for _, info := range statusTable {
		m[info.Value] = info
	}
	return m
}()

// Statuses returns the lifecycle table in order. The slice is a copy.
func Statuses() []StatusInfo {
	out := make([]StatusInfo, len(statusTable))
	copy(out, statusTable)
	return out
}

// StatusOptions renders the lifecycle table for the wizard's status endpoint.
func StatusOptions() []trademark.StatusOption {
	out := make([]trademark.StatusOption, len(statusTable))
	for i, info := range statusTable {
		out[i] = trademark.StatusOption{Value: string(info.Value), Label: info.Label, Stage: info.Stage}
	}
	return out
}

// ParseStatus accepts exactly the 17 status names.
func ParseStatus(s string) (Status, error) {
	if _, ok := statusIndex[Status(s)]; !ok {
		return "", fmt.Errorf("invalid status %q", s)
	}
	return Status(s), nil
}

// IsValid reports whether s is in the lifecycle table.
func (s Status) IsValid() bool {
	_, ok := statusIndex[s]
	return ok
}

// Label is the Japanese display label, or the raw value for unknown statuses.
func (s Status) Label() string {
	if info, ok := statusIndex[s]; ok {
		return info.Label
	}
	return string(s)
}

// Stage is the progress stage, 0 when the status is not on the bar.
func (s Status) Stage() int {
	return statusIndex[s].Stage
}

// IsTerminal reports whether the status ends the normal workflow.
func (s Status) IsTerminal() bool {
	return statusIndex[s].Terminal
}

// StepState is the rendering of one progress step.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepPending   StepState = "pending"
)

// ProgressStep is one step of the six-step progress bar.
type ProgressStep struct {
	Stage int       `json:"stage"`
	Label string    `json:"label"`
	State StepState `json:"state"`
}

var stageLabels = [ProgressStages]string{
	"下書き",
	"新規商標作成/事前調査",
	"出願準備/出願受付",
	"審査中",
	"中間対応中",
	"登録準備/登録完了",
}

// Progress renders the progress bar for status. Earlier stages are
// completed, the status's own stage is current and later stages pending.
// Statuses that complete their stage mark it completed too; statuses off the
// bar render every step pending.
func Progress(status Status) []ProgressStep {
	info := statusIndex[status]
	steps := make([]ProgressStep, ProgressStages)
	for i := range steps {
		stage := i + 1
		state := StepPending
		switch {
		case info.Stage == 0:
		case stage < info.Stage:
			state = StepCompleted
		case stage == info.Stage && info.CompletesStage:
			state = StepCompleted
		case stage == info.Stage:
			state = StepCurrent
		}
		steps[i] = ProgressStep{Stage: stage, Label: stageLabels[i], State: state}
	}
	return steps
}
