package repos

import (
	"context"
	"sort"
	"sync"
	"time"

	"comsy.local/booking-service/internal/db/models"
)

// MemoryStore keeps computers and bookings in process memory. It enforces
// the same uniqueness and interval-exclusion rules as the postgres schema
// and serves development runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	computers map[string]*models.Computer
	bookings  map[string]*models.Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		computers: make(map[string]*models.Computer),
		bookings:  make(map[string]*models.Booking),
	}
}

func (s *MemoryStore) CreateComputer(_ context.Context, c *models.Computer) (*models.Computer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.computers[c.ID]; exists {
		return nil, ErrDuplicate
	}
	for _, existing := range s.computers {
		if existing.Name == c.Name || existing.MACAddress == c.MACAddress {
			return nil, ErrDuplicate
		}
	}

	stored := *c
	stored.UpdatedAt = stored.CreatedAt
	s.computers[c.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemoryStore) GetComputer(_ context.Context, id string) (*models.Computer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.computers[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) ListComputers(_ context.Context, approvedOnly bool) ([]models.Computer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	computers := []models.Computer{}
	for _, c := range s.computers {
		if approvedOnly && !c.Approved() {
			continue
		}
		computers = append(computers, *c)
	}
	sort.Slice(computers, func(i, j int) bool { return computers[i].Name < computers[j].Name })
	return computers, nil
}

func (s *MemoryStore) ApproveComputer(_ context.Context, id string) (*models.Computer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.computers[id]
	if !exists {
		return nil, ErrNotFound
	}
	c.ApprovalState = models.ApprovalApproved
	c.UpdatedAt = time.Now().UTC()
	out := *c
	return &out, nil
}

func (s *MemoryStore) SetOperationalStatus(_ context.Context, id string, status models.OperationalStatus) (*models.Computer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.computers[id]
	if !exists {
		return nil, ErrNotFound
	}
	c.OperationalStatus = status
	c.UpdatedAt = time.Now().UTC()
	out := *c
	return &out, nil
}

func (s *MemoryStore) ReflagOperationalStatus(_ context.Context, id string, status models.OperationalStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.computers[id]
	if !exists {
		return false, ErrNotFound
	}
	if c.OperationalStatus == models.OperationalMaintenance || c.OperationalStatus == status {
		return false, nil
	}
	c.OperationalStatus = status
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.ID]; exists {
		return nil, ErrDuplicate
	}
	if b.Status.Active() {
		for _, existing := range s.bookings {
			if existing.ComputerID == b.ComputerID && existing.Status.Active() && existing.Overlaps(b.StartTime, b.EndTime) {
				return nil, ErrOverlap
			}
		}
	}

	stored := *b
	s.bookings[b.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.bookings[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *b
	return &out, nil
}

func (s *MemoryStore) FindOverlapping(_ context.Context, computerID string, start, end time.Time) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := []models.Booking{}
	for _, b := range s.bookings {
		if b.ComputerID == computerID && b.Status.Active() && b.Overlaps(start, end) {
			bookings = append(bookings, *b)
		}
	}
	sortBookings(bookings)
	return bookings, nil
}

func (s *MemoryStore) DeleteUpcomingBooking(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.bookings[id]
	if !exists || b.Status != models.BookingUpcoming {
		return false, nil
	}
	delete(s.bookings, id)
	return true, nil
}

func (s *MemoryStore) ListBookings(_ context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := []models.Booking{}
	for _, b := range s.bookings {
		if filter.Matches(b) {
			bookings = append(bookings, *b)
		}
	}
	sortBookings(bookings)
	return bookings, nil
}

func (s *MemoryStore) StartDueBookings(_ context.Context, now time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := []models.Booking{}
	for _, b := range s.bookings {
		if b.Status == models.BookingUpcoming && b.StatusAt(now) == models.BookingOngoing {
			b.Status = models.BookingOngoing
			started = append(started, *b)
		}
	}
	sortBookings(started)
	return started, nil
}

func (s *MemoryStore) CompleteEndedBookings(_ context.Context, now time.Time) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := []models.Booking{}
	for _, b := range s.bookings {
		if b.Status.Active() && b.StatusAt(now) == models.BookingCompleted {
			b.Status = models.BookingCompleted
			completed = append(completed, *b)
		}
	}
	sortBookings(completed)
	return completed, nil
}

func (s *MemoryStore) OngoingComputerIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := []string{}
	for _, b := range s.bookings {
		if b.Status != models.BookingOngoing {
			continue
		}
		if _, dup := seen[b.ComputerID]; dup {
			continue
		}
		seen[b.ComputerID] = struct{}{}
		ids = append(ids, b.ComputerID)
	}
	sort.Strings(ids)
	return ids, nil
}

func sortBookings(bookings []models.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].StartTime.Equal(bookings[j].StartTime) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].StartTime.Before(bookings[j].StartTime)
	})
}
