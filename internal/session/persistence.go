package session

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/argosnet/barcodescanner/internal/api"
)

const singletonRowID = 1

// SavedLogin persists the credentials of the last successful login so separate
// invocations share one logical session.
type SavedLogin struct {
	ID         int64     `gorm:"column:id;primaryKey"`
	UserID     int64     `gorm:"column:user_id;not null;default:0"`
	Username   string    `gorm:"column:username;size:190;not null;default:''"`
	Password   string    `gorm:"column:password;size:190;not null;default:''"`
	Token      string    `gorm:"column:token;size:190;not null;default:''"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
}

// TableName provides the explicit table binding for GORM.
func (SavedLogin) TableName() string {
	return "session"
}

// Selection persists the last chosen order and stage.
type Selection struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	OrderID       int64  `gorm:"column:order_id;not null;default:0"`
	OrderName     string `gorm:"column:order_name;size:190;not null;default:''"`
	ProcessTypeID int64  `gorm:"column:process_type_id;not null;default:0"`
	StageID       int64  `gorm:"column:stage_id;not null;default:0"`
	StageName     string `gorm:"column:stage_name;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Selection) TableName() string {
	return "selection"
}

// CachedOrder is a local copy of an order's display fields, kept as a fallback
// for list rendering when the server is unreachable.
type CachedOrder struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Name          string `gorm:"column:name;size:190;not null;default:''"`
	ProcessTypeID int64  `gorm:"column:process_type_id;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (CachedOrder) TableName() string {
	return "device_order"
}

// StoreConfig describes the dependencies of the session store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists login, selection and order-cache rows.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore constructs the session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("session: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// SaveLogin upserts the single saved-login row.
func (s *Store) SaveLogin(login SavedLogin) error {
	login.ID = singletonRowID
	login.LastSeenAt = s.clock()
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&login).Error
	if err != nil {
		return fmt.Errorf("session: save login: %w", err)
	}
	return nil
}

// LoadLogin returns the saved login, or nil when none is stored.
func (s *Store) LoadLogin() (*SavedLogin, error) {
	var row SavedLogin
	err := s.db.Where("id = ?", singletonRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load login: %w", err)
	}
	return &row, nil
}

// ClearLogin removes the saved login and selection. Invoked on logout.
func (s *Store) ClearLogin() error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", singletonRowID).Delete(&SavedLogin{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", singletonRowID).Delete(&Selection{}).Error
	})
	if err != nil {
		return fmt.Errorf("session: clear login: %w", err)
	}
	return nil
}

// SaveSelection upserts the single selection row.
func (s *Store) SaveSelection(selection Selection) error {
	selection.ID = singletonRowID
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&selection).Error
	if err != nil {
		return fmt.Errorf("session: save selection: %w", err)
	}
	return nil
}

// LoadSelection returns the saved selection, or nil when none is stored.
func (s *Store) LoadSelection() (*Selection, error) {
	var row Selection
	err := s.db.Where("id = ?", singletonRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load selection: %w", err)
	}
	return &row, nil
}

// CacheOrders refreshes the local order cache from a fetched order list.
func (s *Store) CacheOrders(orders []api.Order) error {
	if len(orders) == 0 {
		return nil
	}
	rows := make([]CachedOrder, 0, len(orders))
	for _, order := range orders {
		rows = append(rows, CachedOrder{
			ID:            order.ID,
			Name:          order.Name,
			ProcessTypeID: order.ResolveProcessTypeID(),
		})
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("session: cache orders: %w", err)
	}
	return nil
}

// CachedOrderName returns the locally cached display name for an order.
func (s *Store) CachedOrderName(orderID int64) (string, bool) {
	var row CachedOrder
	err := s.db.Where("id = ?", orderID).Take(&row).Error
	if err != nil || row.Name == "" {
		return "", false
	}
	return row.Name, true
}
