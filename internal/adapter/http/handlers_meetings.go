package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/AgentMesh/internal/domain/meeting"
)

// CreateMeeting creates a meeting in pending state. The first participant
// becomes the moderator.
func (h *Handlers) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[meeting.CreateRequest](w, r)
	if !ok {
		return
	}
	m, err := h.Meetings.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMeetings lists meetings, optionally filtered by ?status=.
func (h *Handlers) ListMeetings(w http.ResponseWriter, r *http.Request) {
	meetings, err := h.Meetings.List(r.Context(), meeting.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (h *Handlers) GetMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := h.Meetings.Get(r.Context(), urlParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.Meetings.Participants(r.Context(), urlParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

type addParticipantRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`
}

// AddParticipant appends an agent to the roster with the next speaking slot.
func (h *Handlers) AddParticipant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[addParticipantRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.AgentID, "agent_id") {
		return
	}
	p, err := h.Meetings.AddParticipant(r.Context(), urlParam(r, "meetingID"), req.AgentID, req.Role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type recordMessageRequest struct {
	AgentID string              `json:"agent_id"`
	Content string              `json:"content"`
	Type    meeting.MessageType `json:"message_type"`
}

// RecordMessage appends a transcript entry for an out-of-band contribution.
func (h *Handlers) RecordMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[recordMessageRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.AgentID, "agent_id") {
		return
	}
	msg, err := h.Meetings.RecordMessage(r.Context(), urlParam(r, "meetingID"), req.AgentID, req.Content, req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Transcript returns meeting messages with sequence numbers above ?after=.
func (h *Handlers) Transcript(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	msgs, err := h.Meetings.Transcript(r.Context(), urlParam(r, "meetingID"), after)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []meeting.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// RecordDecision stores a decision reached outside the automated flow.
func (h *Handlers) RecordDecision(w http.ResponseWriter, r *http.Request) {
	d, ok := readJSON[meeting.Decision](w, r)
	if !ok {
		return
	}
	d.MeetingID = urlParam(r, "meetingID")
	recorded, err := h.Meetings.RecordDecision(r.Context(), &d)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recorded)
}

func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := h.Meetings.Decisions(r.Context(), urlParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}
