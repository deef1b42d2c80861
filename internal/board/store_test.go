package board

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/codec"
	"github.com/MarcoPoloResearchLab/geoboard/internal/database"
	"github.com/MarcoPoloResearchLab/geoboard/internal/geo"
	"go.uber.org/zap"
)

const metersPerDegreeLatitude = 111_320.0

var testOrigin = geo.Location{Latitude: -34.9205, Longitude: -57.9536, Level: 0}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(step)
}

func newTestStore(t *testing.T) (*Store, *database.Handles, *testClock) {
	t.Helper()
	handles, err := database.OpenSQLite(database.Config{Path: filepath.Join(t.TempDir(), "board.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = handles.Close()
	})
	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	store, err := NewStore(StoreConfig{
		Writer: handles.Writer,
		Reader: handles.Reader,
		Clock:  clock.Now,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, handles, clock
}

func northOf(origin geo.Location, meters float64) geo.Location {
	return geo.Location{
		Latitude:  origin.Latitude + meters/metersPerDegreeLatitude,
		Longitude: origin.Longitude,
		Level:     origin.Level,
	}
}

func mustCreateUser(t *testing.T, store *Store) int64 {
	t.Helper()
	userID, err := store.CreateUser(context.Background())
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return userID
}

func mustAddMessage(t *testing.T, store *Store, userID int64, location geo.Location, content codec.Value) Message {
	t.Helper()
	message, err := store.AddMessage(context.Background(), userID, location, content)
	if err != nil {
		t.Fatalf("failed to add message: %v", err)
	}
	return message
}

func countVotes(t *testing.T, handles *database.Handles, messageID int64) int64 {
	t.Helper()
	var count int64
	if err := handles.Reader.Model(&voteRecord{}).Where("message_id = ?", messageID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count votes: %v", err)
	}
	return count
}

func TestNewStoreRequiresHandles(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if storeErr.Code() != "board.store.new.missing_writer" {
		t.Fatalf("unexpected code %s", storeErr.Code())
	}
}

func TestCreateUserAssignsDistinctIDs(t *testing.T) {
	store, _, _ := newTestStore(t)
	first := mustCreateUser(t, store)
	second := mustCreateUser(t, store)
	if first <= 0 || second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}

	user, err := store.GetUser(context.Background(), second)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if user.Banned {
		t.Fatalf("new users must not be banned")
	}
	if !user.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected creation time %v", user.CreatedAt)
	}

	if _, err := store.GetUser(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddMessageCreatesAuthorAndReturnsStoredRecord(t *testing.T) {
	store, _, _ := newTestStore(t)
	location := geo.Location{Latitude: -34.9, Longitude: -57.95, Level: 1}

	message := mustAddMessage(t, store, 42, location, codec.Value(0x0FF00102))
	if message.ID <= 0 {
		t.Fatalf("expected assigned id, got %d", message.ID)
	}
	if message.AuthorID != 42 || message.Content != codec.Value(0x0FF00102) {
		t.Fatalf("unexpected message %#v", message)
	}
	if message.Location != location {
		t.Fatalf("unexpected location %#v", message.Location)
	}
	if message.Likes != 0 || message.Dislikes != 0 || message.RatedByRequester != GradeUnset {
		t.Fatalf("expected zero votes, got %#v", message)
	}
	if message.Deleted {
		t.Fatalf("new message must not be deleted")
	}

	if _, err := store.GetUser(context.Background(), 42); err != nil {
		t.Fatalf("expected author row to be created: %v", err)
	}

	again := mustAddMessage(t, store, 42, location, codec.Value(1))
	if again.ID == message.ID {
		t.Fatalf("expected a fresh id for the second message")
	}
}

func TestVoteOverwritesGrade(t *testing.T) {
	store, handles, _ := newTestStore(t)
	author := mustCreateUser(t, store)
	voter := mustCreateUser(t, store)
	message := mustAddMessage(t, store, author, testOrigin, 0)

	ctx := context.Background()
	for _, grade := range []Grade{GradeLike, GradeDislike} {
		ok, err := store.Vote(ctx, message.ID, voter, grade)
		if err != nil || !ok {
			t.Fatalf("vote %d failed: ok=%v err=%v", grade, ok, err)
		}
	}

	if count := countVotes(t, handles, message.ID); count != 1 {
		t.Fatalf("expected a single vote row, got %d", count)
	}

	loaded, err := store.GetMessage(ctx, message.ID, voter)
	if err != nil {
		t.Fatalf("failed to load message: %v", err)
	}
	if loaded.Likes != 0 || loaded.Dislikes != 1 {
		t.Fatalf("unexpected aggregates likes=%d dislikes=%d", loaded.Likes, loaded.Dislikes)
	}
	if loaded.RatedByRequester != GradeDislike {
		t.Fatalf("expected requester grade -1, got %d", loaded.RatedByRequester)
	}

	fromAuthor, err := store.GetMessage(ctx, message.ID, author)
	if err != nil {
		t.Fatalf("failed to load message: %v", err)
	}
	if fromAuthor.RatedByRequester != GradeUnset {
		t.Fatalf("author did not vote, got grade %d", fromAuthor.RatedByRequester)
	}

	ok, err := store.Vote(ctx, message.ID, author, GradeLike)
	if err != nil || !ok {
		t.Fatalf("author vote failed: ok=%v err=%v", ok, err)
	}
	ok, err = store.Vote(ctx, message.ID, voter, GradeUnset)
	if err != nil || !ok {
		t.Fatalf("unset vote failed: ok=%v err=%v", ok, err)
	}
	loaded, err = store.GetMessage(ctx, message.ID, voter)
	if err != nil {
		t.Fatalf("failed to load message: %v", err)
	}
	if loaded.Likes != 1 || loaded.Dislikes != 0 || loaded.RatedByRequester != GradeUnset {
		t.Fatalf("unexpected state after unset: %#v", loaded)
	}
}

func TestVoteRejectsUnknownReferences(t *testing.T) {
	store, handles, _ := newTestStore(t)
	ctx := context.Background()
	voter := mustCreateUser(t, store)

	ok, err := store.Vote(ctx, 12345, voter, GradeLike)
	if err != nil {
		t.Fatalf("missing message must not surface as an error: %v", err)
	}
	if ok {
		t.Fatalf("expected vote on missing message to fail")
	}
	if count := countVotes(t, handles, 12345); count != 0 {
		t.Fatalf("expected no vote rows, got %d", count)
	}

	message := mustAddMessage(t, store, voter, testOrigin, 0)
	ok, err = store.Vote(ctx, message.ID, 777, GradeLike)
	if err != nil || ok {
		t.Fatalf("expected vote from unknown user to fail quietly: ok=%v err=%v", ok, err)
	}
	if count := countVotes(t, handles, message.ID); count != 0 {
		t.Fatalf("expected no vote rows, got %d", count)
	}
}

func TestConcurrentAddMessageAssignsUniqueIDs(t *testing.T) {
	store, _, _ := newTestStore(t)
	const writers = 24

	var wg sync.WaitGroup
	ids := make(chan int64, writers)
	errs := make(chan error, writers)
	for index := 0; index < writers; index++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			message, err := store.AddMessage(context.Background(), userID, testOrigin, codec.Value(userID))
			if err != nil {
				errs <- err
				return
			}
			ids <- message.ID
		}(int64(index%4 + 1))
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent add failed: %v", err)
	}
	seen := make(map[int64]struct{}, writers)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != writers {
		t.Fatalf("expected %d messages, got %d", writers, len(seen))
	}
}

func TestFindMessagesFiltersByProximityAndLevel(t *testing.T) {
	store, _, clock := newTestStore(t)
	author := mustCreateUser(t, store)

	atOrigin := mustAddMessage(t, store, author, northOf(testOrigin, 0), 1)
	clock.Advance(time.Second)
	near := mustAddMessage(t, store, author, northOf(testOrigin, 50), 2)
	clock.Advance(time.Second)
	mustAddMessage(t, store, author, northOf(testOrigin, 150), 3)
	clock.Advance(time.Second)
	upstairs := northOf(testOrigin, 0)
	upstairs.Level = 1
	mustAddMessage(t, store, author, upstairs, 4)

	maxDistance := 100.0
	origin := testOrigin
	messages, err := store.FindMessages(context.Background(), FindParams{
		RequesterID: author,
		Origin:      &origin,
		MaxDistance: &maxDistance,
	})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != near.ID || messages[1].ID != atOrigin.ID {
		t.Fatalf("unexpected order %d, %d", messages[0].ID, messages[1].ID)
	}

	limited, err := store.FindMessages(context.Background(), FindParams{
		RequesterID: author,
		Origin:      &origin,
		MaxDistance: &maxDistance,
		Limit:       1,
	})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != near.ID {
		t.Fatalf("expected only the newest nearby message, got %#v", limited)
	}
}

func TestFindMessagesFiltersBySinceAndIDs(t *testing.T) {
	store, _, clock := newTestStore(t)
	author := mustCreateUser(t, store)

	old := mustAddMessage(t, store, author, testOrigin, 1)
	cutoff := clock.Now()
	clock.Advance(time.Minute)
	fresh := mustAddMessage(t, store, author, testOrigin, 2)
	clock.Advance(time.Minute)
	fresher := mustAddMessage(t, store, author, testOrigin, 3)

	ctx := context.Background()
	since, err := store.FindMessages(ctx, FindParams{RequesterID: author, Since: &cutoff})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(since) != 2 || since[0].ID != fresher.ID || since[1].ID != fresh.ID {
		t.Fatalf("unexpected since result %#v", since)
	}

	byID, err := store.FindMessages(ctx, FindParams{RequesterID: author, IDs: []int64{old.ID, fresher.ID, 9999}})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(byID) != 2 || byID[0].ID != fresher.ID || byID[1].ID != old.ID {
		t.Fatalf("unexpected id result %#v", byID)
	}

	combined, err := store.FindMessages(ctx, FindParams{RequesterID: author, IDs: []int64{old.ID, fresh.ID}, Since: &cutoff})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(combined) != 1 || combined[0].ID != fresh.ID {
		t.Fatalf("unexpected combined result %#v", combined)
	}

	everything, err := store.FindMessages(ctx, FindParams{RequesterID: author})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(everything) != 3 {
		t.Fatalf("expected every message without filters, got %d", len(everything))
	}
}

func TestDeleteMessageHidesMessageAndItsVotes(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	author := mustCreateUser(t, store)
	voter := mustCreateUser(t, store)
	message := mustAddMessage(t, store, author, testOrigin, 0)
	kept := mustAddMessage(t, store, author, testOrigin, 1)

	if ok, err := store.Vote(ctx, message.ID, voter, GradeLike); err != nil || !ok {
		t.Fatalf("vote failed: ok=%v err=%v", ok, err)
	}

	deleted, err := store.DeleteMessage(ctx, message.ID)
	if err != nil || !deleted {
		t.Fatalf("delete failed: deleted=%v err=%v", deleted, err)
	}

	if _, err := store.GetMessage(ctx, message.ID, voter); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted message, got %v", err)
	}
	messages, err := store.FindMessages(ctx, FindParams{RequesterID: voter})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != kept.ID {
		t.Fatalf("expected only the live message, got %#v", messages)
	}

	again, err := store.DeleteMessage(ctx, message.ID)
	if err != nil || again {
		t.Fatalf("second delete should report false: deleted=%v err=%v", again, err)
	}
	if ok, err := store.Vote(ctx, message.ID, voter, GradeDislike); err != nil || ok {
		t.Fatalf("vote on deleted message should report false: ok=%v err=%v", ok, err)
	}
}

func TestWriteHonoursCancellationWhileWaiting(t *testing.T) {
	store, _, _ := newTestStore(t)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.gate.run(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.CreateUser(ctx)
	close(release)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGateShieldsAdmittedWriteFromCancellation(t *testing.T) {
	gate := newWriteGate()
	ctx, cancel := context.WithCancel(context.Background())
	err := gate.run(ctx, func(writeCtx context.Context) error {
		cancel()
		return writeCtx.Err()
	})
	if err != nil {
		t.Fatalf("admitted write observed cancellation: %v", err)
	}
}

func TestParseGrade(t *testing.T) {
	for _, value := range []int{-1, 0, 1} {
		if _, err := ParseGrade(value); err != nil {
			t.Fatalf("unexpected error for %d: %v", value, err)
		}
	}
	if _, err := ParseGrade(2); err == nil {
		t.Fatalf("expected error for grade 2")
	}
}
