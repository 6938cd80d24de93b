// Package project implements the project manager (spec.md §4.4): an
// event-driven reconciler that derives project/shot/shot-part/user state
// from folder metadata and a shared configuration document, and drives
// the sync-daemon handler to realize the intended device-to-folder
// topology.
package project

import (
	"github.com/pedohorse/lance/internal/syncmodel"
)

// ShotPart mirrors one shot-part folder plus the set of users granted
// access to it, reconstructed from folder metadata (spec.md §3).
type ShotPart struct {
	FolderID   string
	Project    string
	ShotID     string
	ShotPartID string
	users      map[string]struct{}
}

func newShotPart(f *syncmodel.Folder) (*ShotPart, bool) {
	sp, ok := f.ShotPart()
	if !ok {
		return nil, false
	}
	return &ShotPart{
		FolderID:   f.ID,
		Project:    sp.Project,
		ShotID:     sp.ShotID,
		ShotPartID: sp.ShotPartID,
		users:      map[string]struct{}{},
	}, true
}

func (s *ShotPart) AddUser(id string)    { s.users[id] = struct{}{} }
func (s *ShotPart) RemoveUser(id string) { delete(s.users, id) }
func (s *ShotPart) Users() []string {
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	return out
}

// User is one project-level identity (spec.md §3). Users live in the
// per-project config.cfg document, not the sync-daemon's own model.
type User struct {
	ID      string
	Name    string
	Devices map[string]struct{}
	Access  map[[2]string]struct{} // (shotid, shotpartid)
}

func newUser(dto userDTO) *User {
	u := &User{ID: dto.ID, Name: dto.Name, Devices: map[string]struct{}{}, Access: map[[2]string]struct{}{}}
	for _, d := range dto.DeviceIDs {
		u.Devices[d] = struct{}{}
	}
	for _, pair := range dto.Access {
		if len(pair) == 2 {
			u.Access[[2]string{pair[0], pair[1]}] = struct{}{}
		}
	}
	return u
}

func (u *User) DeviceList() []string {
	out := make([]string, 0, len(u.Devices))
	for d := range u.Devices {
		out = append(out, d)
	}
	return out
}

func (u *User) HasAccess(shotID, shotPartID string) bool {
	_, ok := u.Access[[2]string{shotID, shotPartID}]
	return ok
}

func (u *User) serialize() userDTO {
	dto := userDTO{ID: u.ID, Name: u.Name}
	dto.DeviceIDs = u.DeviceList()
	for pair := range u.Access {
		dto.Access = append(dto.Access, [2]string{pair[0], pair[1]})
	}
	return dto
}
