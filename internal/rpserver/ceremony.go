//
// Copyright 2021-2026 the Authors
//
// This file is part of this program.
//
// This program is free software: you can redistribute it and/or modify it under the
// terms of the GNU General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later
// version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
// A PARTICULAR PURPOSE. See the GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along with
// this program. If not, see <https://www.gnu.org/licenses/>.

package rpserver

import (
	"encoding/json"
	"net/http"

	webauthnrp "webauthnrp"
	"webauthnrp/internal/log"
)

type startRequest struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("writeJSON: %v", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleRegisterOptions issues a fresh creation request and caches the
// challenge against the user ID, the way the teacher caches a nonce in
// preLoginCache ahead of the matching finish call.
func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.UserName == "" {
		http.Error(w, "userId and userName are required", http.StatusBadRequest)
		return
	}
	user := webauthnrp.User{
		ID:          []byte(req.UserID),
		Name:        req.UserName,
		DisplayName: req.DisplayName,
	}
	creation, err := s.rp.NewCreationRequest(user, 60000)
	if err != nil {
		log.Errorf("NewCreationRequest: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.challenges.Add(challengeKey(req.UserID), &pendingChallenge{
		challenge: creation.Challenge,
		userID:    req.UserID,
	})
	writeJSON(w, creation)
}

// handleRegisterFinish validates a registration response and persists the
// resulting Device.
func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	pending, ok := s.takeChallenge(userID)
	if !ok {
		http.Error(w, "no pending registration for user", http.StatusBadRequest)
		return
	}

	var resp webauthnrp.CreationResponse
	if !decodeJSON(w, r, &resp) {
		return
	}
	device, err := s.rp.VerifyRegistration(&resp, pending.challenge)
	if err != nil {
		log.Errorf("VerifyRegistration: %v", err)
		http.Error(w, "registration verification failed", http.StatusForbidden)
		return
	}
	if err := s.devices.Put(userID, device); err != nil {
		log.Errorf("store.Put: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Status string `json:"status"`
	}{"ok"})
}

// handleLoginOptions issues an assertion request scoped to the user's
// registered credential IDs.
func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	devices, err := s.devices.Get(req.UserID)
	if err != nil {
		log.Errorf("store.Get: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(devices) == 0 {
		http.Error(w, "no credentials registered", http.StatusNotFound)
		return
	}
	ids := make([][]byte, len(devices))
	for i, d := range devices {
		ids[i] = d.CredentialID
	}
	assertion, err := s.rp.NewAssertionRequest(ids, 60000)
	if err != nil {
		log.Errorf("NewAssertionRequest: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.challenges.Add(challengeKey(req.UserID), &pendingChallenge{
		challenge: assertion.Challenge,
		userID:    req.UserID,
	})
	writeJSON(w, assertion)
}

// handleLoginFinish validates an assertion response against the user's
// stored devices and persists the updated sign count.
func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	pending, ok := s.takeChallenge(userID)
	if !ok {
		http.Error(w, "no pending login for user", http.StatusBadRequest)
		return
	}

	var resp webauthnrp.AssertionResponse
	if !decodeJSON(w, r, &resp) {
		return
	}
	devices, err := s.devices.Get(userID)
	if err != nil {
		log.Errorf("store.Get: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	result, err := s.rp.VerifyAssertion(&resp, pending.challenge, devices)
	if err != nil {
		log.Errorf("VerifyAssertion: %v", err)
		http.Error(w, "assertion verification failed", http.StatusForbidden)
		return
	}
	if result.CounterRegressed {
		log.Errorf("login: sign counter regressed for user %q, credential %x", userID, resp.RawID)
	}
	if err := s.devices.UpdateSignCount(userID, mustDecodeRawID(resp.RawID), result.UpdatedSignCount); err != nil {
		log.Errorf("store.UpdateSignCount: %v", err)
	}
	writeJSON(w, struct {
		Status           string `json:"status"`
		CounterRegressed bool   `json:"counterRegressed"`
	}{"ok", result.CounterRegressed})
}

func (s *Server) takeChallenge(userID string) (*pendingChallenge, bool) {
	v, ok := s.challenges.Get(challengeKey(userID))
	if !ok {
		return nil, false
	}
	s.challenges.Remove(challengeKey(userID))
	p, ok := v.(*pendingChallenge)
	return p, ok
}

func challengeKey(userID string) string {
	return "chal:" + userID
}

func mustDecodeRawID(rawID string) []byte {
	b, err := webauthnrp.DecodeRawID(rawID)
	if err != nil {
		return nil
	}
	return b
}
