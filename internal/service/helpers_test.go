package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bookmyenv/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	db, err := gorm.Open(dsn, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := model.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeTransport records deliveries and fails those whose target is listed.
type fakeTransport struct {
	mu         sync.Mutex
	deliveries []Delivery
	failFor    map[string]error
}

func (f *fakeTransport) Deliver(ctx context.Context, d Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	if err, ok := f.failFor[d.Target]; ok {
		return err
	}
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

// recordingNotifier captures SendNotifications calls.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	intentID string
	event    model.EventType
	extra    Extra
}

func (r *recordingNotifier) SendNotifications(ctx context.Context, intentID string, event model.EventType, extra Extra) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notifyCall{intentID: intentID, event: event, extra: extra})
}

func (r *recordingNotifier) events() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.event)
	}
	return out
}

func createUser(t *testing.T, db *gorm.DB, username string, status model.UserStatus) *model.User {
	t.Helper()
	u := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "x",
		Role:     model.UserRoleUser,
		Status:   status,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createGroup(t *testing.T, db *gorm.DB, name string, members ...*model.User) *model.UserGroup {
	t.Helper()
	g := &model.UserGroup{Name: name}
	if err := db.Create(g).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, u := range members {
		if err := db.Create(&model.UserGroupMember{GroupID: g.ID, UserID: u.ID}).Error; err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	return g
}

func createIntent(t *testing.T, db *gorm.DB, requester *model.User, status model.RefreshStatus, planned *time.Time) *model.RefreshIntent {
	t.Helper()
	intent := &model.RefreshIntent{
		EntityType:  "Environment",
		EntityID:    "env-42",
		EntityName:  "Env-42",
		RefreshType: "FULL_COPY",
		Status:      status,
		PlannedDate: planned,
	}
	if requester != nil {
		intent.RequestedBy = requester.ID
	}
	if err := db.Create(intent).Error; err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return intent
}

func createSetting(t *testing.T, db *gorm.DB, s model.NotificationSetting) *model.NotificationSetting {
	t.Helper()
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("create setting: %v", err)
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func newTestNotificationService(db *gorm.DB, transport Transport) *NotificationService {
	return NewNotificationService(db, transport, zap.NewNop(), NotificationOptions{
		BaseURL:    "https://bookmyenv.example.com",
		Location:   time.UTC,
		DateLayout: "Jan 2, 2006 15:04",
	})
}
