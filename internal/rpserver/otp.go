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
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/http"

	"github.com/pquerna/otp/totp"

	"webauthnrp/internal/log"
)

// handleGenerateOTP issues a fresh TOTP secret for a user as a fallback
// factor alongside WebAuthn, adapted from the teacher's
// handleGenerateOTP/handleSetOTP pair. The secret itself is returned to the
// caller to persist; the daemon core holds no per-user OTP state.
func (s *Server) handleGenerateOTP(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("userId")
	if account == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      r.Host,
		AccountName: account,
	})
	if err != nil {
		log.Errorf("totp.Generate: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	img, err := key.Image(200, 200)
	if err != nil {
		log.Errorf("key.Image: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Errorf("png.Encode: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Key string `json:"key"`
		Img string `json:"img"`
	}{
		Key: key.Secret(),
		Img: fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(buf.Bytes())),
	})
}

type setOTPRequest struct {
	Key  string `json:"key"`
	Code string `json:"code"`
}

// handleSetOTP validates a TOTP code against a freshly generated secret
// before the caller commits it as an enabled fallback factor.
func (s *Server) handleSetOTP(w http.ResponseWriter, r *http.Request) {
	var req setOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validateOTP(req.Key, req.Code) {
		http.Error(w, "code is invalid", http.StatusForbidden)
		return
	}
	writeJSON(w, struct {
		Status string `json:"status"`
	}{"ok"})
}

func validateOTP(key, passcode string) bool {
	if key == "" && passcode == "" {
		return true
	}
	return totp.Validate(passcode, key)
}
