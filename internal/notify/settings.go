package notify

import (
	"context"
	"errors"

	"github.com/hookline/hookline/internal/store"
)

// Settings applies notification-preference writes. Because preferences may
// have been saved under either a subject identifier or an email address,
// every write upserts under both keys when both are known, keeping the
// resolution chain in Router coherent.
type Settings struct {
	store store.Store
}

func NewSettings(s store.Store) *Settings {
	return &Settings{store: s}
}

// Enable turns notifications on under every known identity key. A setting
// created here with no prior address uses the account email as the
// notification address.
func (s *Settings) Enable(ctx context.Context, subjectID, email string) error {
	return s.setEnabled(ctx, subjectID, email, true)
}

// Disable turns notifications off under every known identity key. The
// stored address is kept so a later Enable resumes delivery to it.
func (s *Settings) Disable(ctx context.Context, subjectID, email string) error {
	return s.setEnabled(ctx, subjectID, email, false)
}

func (s *Settings) setEnabled(ctx context.Context, subjectID, email string, enabled bool) error {
	current, err := s.current(ctx, subjectID, email)
	if err != nil {
		return err
	}

	address := email
	if current != nil && current.NotificationEmail != "" {
		address = current.NotificationEmail
	}

	for _, key := range identityKeys(subjectID, email) {
		if err := s.store.UpsertSetting(ctx, &store.NotificationSetting{
			IdentityKey:       key,
			Enabled:           enabled,
			NotificationEmail: address,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SetEmail changes the notification address under every known identity key
// and purges stale rows that still carry the old address under other keys,
// so an address change cannot leave duplicate delivery targets behind.
func (s *Settings) SetEmail(ctx context.Context, subjectID, email, address string) error {
	current, err := s.current(ctx, subjectID, email)
	if err != nil {
		return err
	}

	enabled := true
	oldAddress := ""
	if current != nil {
		enabled = current.Enabled
		oldAddress = current.NotificationEmail
	}

	keys := identityKeys(subjectID, email)
	for _, key := range keys {
		if err := s.store.UpsertSetting(ctx, &store.NotificationSetting{
			IdentityKey:       key,
			Enabled:           enabled,
			NotificationEmail: address,
		}); err != nil {
			return err
		}
	}

	if oldAddress != "" && oldAddress != address {
		if err := s.store.PurgeSettingsByEmail(ctx, oldAddress, keys); err != nil {
			return err
		}
	}
	return nil
}

// current finds an existing setting under any known key, subject id first.
func (s *Settings) current(ctx context.Context, subjectID, email string) (*store.NotificationSetting, error) {
	for _, key := range identityKeys(subjectID, email) {
		setting, err := s.store.GetSetting(ctx, key)
		if err == nil {
			return setting, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func identityKeys(subjectID, email string) []string {
	var keys []string
	if subjectID != "" {
		keys = append(keys, subjectID)
	}
	if email != "" && email != subjectID {
		keys = append(keys, email)
	}
	return keys
}
