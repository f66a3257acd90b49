package models

import (
	"fmt"
	"strings"
	"time"
)

// FormKind tags which variant a form carries.
type FormKind string

const (
	FormKindApplication FormKind = "APPLICATION"
	FormKindInterview   FormKind = "INTERVIEW"
)

// ParseFormKind accepts the path segment or tag form of a kind.
func ParseFormKind(raw string) (FormKind, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPLICATION", "APPLICATIONS":
		return FormKindApplication, nil
	case "INTERVIEW", "INTERVIEWS":
		return FormKindInterview, nil
	default:
		return "", fmt.Errorf("unknown form kind %q", raw)
	}
}

// Label returns the human readable name of the kind.
func (k FormKind) Label() string {
	switch k {
	case FormKindApplication:
		return "Application"
	case FormKindInterview:
		return "Interview"
	default:
		return string(k)
	}
}

// FormStatus captures the review outcome of a form.
type FormStatus int

const (
	FormStatusPending  FormStatus = 0
	FormStatusApproved FormStatus = 1
	FormStatusRejected FormStatus = 2
)

// Terminal reports whether the status is a decision.
func (s FormStatus) Terminal() bool {
	return s == FormStatusApproved || s == FormStatusRejected
}

func (s FormStatus) String() string {
	switch s {
	case FormStatusPending:
		return "Pending"
	case FormStatusApproved:
		return "Approved"
	case FormStatusRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("FormStatus(%d)", int(s))
	}
}

// DefaultStatusReason is stored when a decision carries no reason.
const DefaultStatusReason = "no reason given"

// Note is one entry of the append-only reviewer note thread.
type Note struct {
	NoteID    string    `json:"noteId"`
	AuthorID  string    `json:"authorId"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Question pairs a prompt with the applicant's response.
type Question struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Section groups application questions.
type Section struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// ApplicationData is the application-specific payload.
type ApplicationData struct {
	Sections []Section `json:"sections"`
}

// InterviewData is the interview-specific payload.
type InterviewData struct {
	ApplicationID string     `json:"applicationId"`
	Questions     []Question `json:"questions"`
	RecordingPath string     `json:"recordingPath"`
}

// Form is the shared envelope of applications and interviews. Exactly one of
// the embedded payloads is set, matching Kind.
type Form struct {
	ID           string     `json:"id"`
	Kind         FormKind   `json:"kind"`
	ApplicantID  string     `json:"applicantId"`
	Status       FormStatus `json:"status"`
	ClaimedByID  *string    `json:"claimedById"`
	UpdatedByID  string     `json:"updatedById" diff:"-"`
	LastUpdate   time.Time  `json:"lastUpdate" diff:"-"`
	StatusReason string     `json:"statusReason"`
	Notes        []Note     `json:"notes"`
	Version      int64      `json:"version" diff:"-"`
	CreatedAt    time.Time  `json:"createdAt" diff:"-"`

	*ApplicationData
	*InterviewData
}

// NewApplication builds a pending application for the applicant.
func NewApplication(applicantID string, data ApplicationData) *Form {
	return &Form{
		Kind:            FormKindApplication,
		ApplicantID:     applicantID,
		Status:          FormStatusPending,
		Notes:           []Note{},
		ApplicationData: &data,
	}
}

// NewInterview builds a pending interview for the applicant.
func NewInterview(applicantID string, data InterviewData) *Form {
	return &Form{
		Kind:          FormKindInterview,
		ApplicantID:   applicantID,
		Status:        FormStatusPending,
		Notes:         []Note{},
		InterviewData: &data,
	}
}

// Validate checks that the variant payload matches the kind tag.
func (f *Form) Validate() error {
	switch f.Kind {
	case FormKindApplication:
		if f.ApplicationData == nil || f.InterviewData != nil {
			return fmt.Errorf("application form must carry only application data")
		}
	case FormKindInterview:
		if f.InterviewData == nil || f.ApplicationData != nil {
			return fmt.Errorf("interview form must carry only interview data")
		}
	default:
		return fmt.Errorf("unknown form kind %q", f.Kind)
	}
	if f.ClaimedByID == nil && f.Status != FormStatusPending {
		return fmt.Errorf("decided form must record its reviewer")
	}
	return nil
}

// Clone returns a deep copy so proposed states never alias persisted ones.
func (f *Form) Clone() *Form {
	if f == nil {
		return nil
	}
	clone := *f
	if f.ClaimedByID != nil {
		claimed := *f.ClaimedByID
		clone.ClaimedByID = &claimed
	}
	clone.Notes = append([]Note{}, f.Notes...)
	if f.ApplicationData != nil {
		data := ApplicationData{Sections: make([]Section, len(f.ApplicationData.Sections))}
		for i, section := range f.ApplicationData.Sections {
			data.Sections[i] = Section{Title: section.Title, Questions: append([]Question(nil), section.Questions...)}
		}
		clone.ApplicationData = &data
	}
	if f.InterviewData != nil {
		data := *f.InterviewData
		data.Questions = append([]Question(nil), f.InterviewData.Questions...)
		clone.InterviewData = &data
	}
	return &clone
}

// ClaimedBy reports whether userID currently holds the form.
func (f *Form) ClaimedBy(userID string) bool {
	return f.ClaimedByID != nil && *f.ClaimedByID == userID
}

// AppendNote adds a note numbered after the current thread length.
func (f *Form) AppendNote(authorID, text string, at time.Time) Note {
	note := Note{
		NoteID:    fmt.Sprintf("%d", len(f.Notes)+1),
		AuthorID:  authorID,
		Timestamp: at,
		Text:      text,
	}
	f.Notes = append(f.Notes, note)
	return note
}

// Touch records the actor and time of a mutation.
func (f *Form) Touch(actorID string, at time.Time) {
	f.UpdatedByID = actorID
	f.LastUpdate = at
}

// FormFilter constrains listing queries.
type FormFilter struct {
	Kind        FormKind
	Status      []FormStatus
	ApplicantID string
	ClaimedByID string
	SortStatus  string
	Page        int
	PageSize    int
}
