package http

import (
	"net/http"
)

// StartDiscussion transitions the meeting to active and launches the
// automated discussion loop.
func (h *Handlers) StartDiscussion(w http.ResponseWriter, r *http.Request) {
	state, err := h.Coordinator.StartDiscussion(r.Context(), urlParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DiscussionState reports the live phase, round, and collected responses.
func (h *Handlers) DiscussionState(w http.ResponseWriter, r *http.Request) {
	state, err := h.Coordinator.State(urlParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PauseDiscussion suspends the loop between steps; in-flight waits finish.
func (h *Handlers) PauseDiscussion(w http.ResponseWriter, r *http.Request) {
	if err := h.Coordinator.Pause(r.Context(), urlParam(r, "meetingID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ResumeDiscussion(w http.ResponseWriter, r *http.Request) {
	if err := h.Coordinator.Resume(r.Context(), urlParam(r, "meetingID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelDiscussion aborts the loop and cancels the meeting.
func (h *Handlers) CancelDiscussion(w http.ResponseWriter, r *http.Request) {
	if err := h.Coordinator.Cancel(r.Context(), urlParam(r, "meetingID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
