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

// Package store persists webauthn.Device records to disk, encrypted at
// rest. It exists entirely outside the validation core (see the root
// package's concurrency model): the core never reads or writes a Device,
// it only produces and consumes them by value.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	webauthnrp "webauthnrp"
	"webauthnrp/internal/cose"
	"webauthnrp/internal/crypto"
	"webauthnrp/internal/log"
	"webauthnrp/internal/secure"
)

// ErrNotFound indicates no device matches the given user and credential ID.
var ErrNotFound = errors.New("store: device not found")

// deviceRecord is the gob-encoded on-disk shape of a webauthn.Device. The
// root type isn't itself gob-friendly to evolve independently of storage,
// so it's mirrored here the way the teacher's secure.Storage callers keep a
// distinct persisted shape from their API types.
type deviceRecord struct {
	CredentialID []byte
	PublicKey    []byte
	Algorithm    cose.Algorithm
	COSEKey      []byte
	SignCount    uint32
}

func toRecord(d *webauthnrp.Device) deviceRecord {
	return deviceRecord{
		CredentialID: d.CredentialID,
		PublicKey:    d.PublicKey,
		Algorithm:    d.Algorithm,
		COSEKey:      d.COSEKey,
		SignCount:    d.SignCount,
	}
}

func (d deviceRecord) toDevice() *webauthnrp.Device {
	return &webauthnrp.Device{
		CredentialID: d.CredentialID,
		PublicKey:    d.PublicKey,
		Algorithm:    d.Algorithm,
		COSEKey:      d.COSEKey,
		SignCount:    d.SignCount,
	}
}

type userRecord struct {
	Devices []deviceRecord
}

// Store persists one userRecord per user ID under dir, encrypted with
// masterKey, mirroring the teacher's database.New() wiring of
// crypto.MasterKey + secure.NewStorage.
type Store struct {
	mu      sync.Mutex
	storage *secure.Storage
}

// New opens (or initializes) a Store rooted at dir, using masterKey to
// encrypt per-user files.
func New(dir string, masterKey crypto.MasterKey) *Store {
	var key crypto.EncryptionKey = masterKey
	return &Store{storage: secure.NewStorage(dir, &key)}
}

func userFile(userID string) string {
	return "devices/" + userID + ".gob"
}

// Put appends or replaces (by credential ID) a device record for userID.
func (s *Store) Put(userID string, d *webauthnrp.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec userRecord
	commit, err := s.storage.OpenForUpdate(userFile(userID), &rec)
	if err != nil {
		return fmt.Errorf("store: Put: %w", err)
	}
	defer func() {
		if err != nil {
			commit(false, &err)
		}
	}()

	replaced := false
	for i := range rec.Devices {
		if bytes.Equal(rec.Devices[i].CredentialID, d.CredentialID) {
			rec.Devices[i] = toRecord(d)
			replaced = true
			break
		}
	}
	if !replaced {
		rec.Devices = append(rec.Devices, toRecord(d))
	}
	return commit(true, nil)
}

// Get returns all devices registered for userID.
func (s *Store) Get(userID string) ([]*webauthnrp.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec userRecord
	if err := s.storage.ReadDataFile(userFile(userID), &rec); err != nil {
		return nil, nil
	}
	out := make([]*webauthnrp.Device, len(rec.Devices))
	for i, d := range rec.Devices {
		out[i] = d.toDevice()
	}
	return out, nil
}

// UpdateSignCount persists a new sign count for one of userID's devices,
// as returned by webauthn.RelyingParty.VerifyAssertion.
func (s *Store) UpdateSignCount(userID string, credentialID []byte, count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec userRecord
	commit, err := s.storage.OpenForUpdate(userFile(userID), &rec)
	if err != nil {
		return fmt.Errorf("store: UpdateSignCount: %w", err)
	}
	defer func() {
		if err != nil {
			commit(false, &err)
		}
	}()

	found := false
	for i := range rec.Devices {
		if bytes.Equal(rec.Devices[i].CredentialID, credentialID) {
			rec.Devices[i].SignCount = count
			found = true
			break
		}
	}
	if !found {
		err = ErrNotFound
		return err
	}
	return commit(true, nil)
}

// Delete removes one device from userID's record.
func (s *Store) Delete(userID string, credentialID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec userRecord
	commit, err := s.storage.OpenForUpdate(userFile(userID), &rec)
	if err != nil {
		return fmt.Errorf("store: Delete: %w", err)
	}
	defer func() {
		if err != nil {
			commit(false, &err)
		}
	}()

	out := rec.Devices[:0]
	for _, d := range rec.Devices {
		if !bytes.Equal(d.CredentialID, credentialID) {
			out = append(out, d)
		}
	}
	if len(out) == len(rec.Devices) {
		log.Debugf("store: Delete: credential not found for user %q", userID)
	}
	rec.Devices = out
	return commit(true, nil)
}
