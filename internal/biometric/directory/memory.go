// Package directory maps normalized emails to the subject IDs the biometric
// API assigned them.
package directory

import (
	"context"
	"sync"

	"examgate/pkg/domain"
	"examgate/pkg/platform/sentinel"
)

type InMemoryDirectory struct {
	mu       sync.RWMutex
	subjects map[string]domain.SubjectID
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{subjects: make(map[string]domain.SubjectID)}
}

func (d *InMemoryDirectory) Lookup(_ context.Context, email string) (domain.SubjectID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.subjects[email]; ok {
		return id, nil
	}
	return 0, sentinel.ErrNotFound
}

func (d *InMemoryDirectory) Remember(_ context.Context, email string, subjectID domain.SubjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[email] = subjectID
	return nil
}
