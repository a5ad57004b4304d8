package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/klubadudel/device-status-central/internal/model"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Repository, error) {
	// NOTE: GORM AutoMigrate has been observed to fail in some containerized
	// environments during schema probing. The schema here is small and
	// stable, so we create it explicitly and idempotently.
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func ensureSchema(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS regions (
  id text PRIMARY KEY,
  name text NOT NULL,
  regional_manager_name text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);`,
		`CREATE TABLE IF NOT EXISTS branches (
  id text PRIMARY KEY,
  name text NOT NULL,
  address text NOT NULL DEFAULT '',
  region_id text NOT NULL,
  manager_name text NOT NULL DEFAULT '',
  contact_phone text NOT NULL DEFAULT '',
  established_date timestamptz NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);`,
		`CREATE INDEX IF NOT EXISTS idx_branches_region_id ON branches(region_id);`,
		`CREATE TABLE IF NOT EXISTS devices (
  id text PRIMARY KEY,
  name text NOT NULL,
  type text NOT NULL DEFAULT '',
  location text NOT NULL DEFAULT '',
  notes text NOT NULL DEFAULT '',
  branch_id text NOT NULL,
  status varchar(16) NOT NULL DEFAULT 'offline',
  assigned_pin integer NULL,
  last_seen timestamptz NOT NULL DEFAULT now(),
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);`,
		`CREATE INDEX IF NOT EXISTS idx_devices_branch_id ON devices(branch_id);`,
		`CREATE TABLE IF NOT EXISTS device_activity_logs (
  id text PRIMARY KEY,
  device_id text NOT NULL,
  timestamp timestamptz NOT NULL DEFAULT now(),
  event_type varchar(32) NOT NULL,
  old_value text NULL,
  new_value text NULL,
  message text NOT NULL DEFAULT '',
  user_id text NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_device_activity_logs_device_id ON device_activity_logs(device_id, timestamp DESC);`,
		`CREATE TABLE IF NOT EXISTS device_states (
  device_id text PRIMARY KEY,
  state jsonb NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ListDevices returns the durable device listing for a scope. Region scopes
// resolve through the branches table.
func (r *Repository) ListDevices(ctx context.Context, scope model.Scope) ([]model.Device, error) {
	q := r.db.WithContext(ctx).Model(&model.Device{}).Order("name")
	switch {
	case scope.BranchID != "":
		q = q.Where("branch_id = ?", scope.BranchID)
	case scope.RegionID != "":
		q = q.Where("branch_id IN (?)", r.db.WithContext(ctx).Model(&model.Branch{}).Select("id").Where("region_id = ?", scope.RegionID))
	}
	var devices []model.Device
	if err := q.Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *Repository) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) CreateDevice(ctx context.Context, d *model.Device) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// UpdateDevice applies a partial field update and returns the stored record.
func (r *Repository) UpdateDevice(ctx context.Context, id string, fields map[string]any) (*model.Device, error) {
	if len(fields) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, nil
		}
	}
	return r.GetDevice(ctx, id)
}

func (r *Repository) DeleteDevice(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Device{}, "id = ?", id).Error; err != nil {
			return err
		}
		// Activity logs are kept; orphaned history is acceptable.
		return tx.Delete(&model.DeviceState{}, "device_id = ?", id).Error
	})
}

func (r *Repository) ListBranches(ctx context.Context) ([]model.Branch, error) {
	var branches []model.Branch
	if err := r.db.WithContext(ctx).Order("name").Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

func (r *Repository) ListBranchesByRegion(ctx context.Context, regionID string) ([]model.Branch, error) {
	var branches []model.Branch
	if err := r.db.WithContext(ctx).Where("region_id = ?", regionID).Order("name").Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

func (r *Repository) GetBranch(ctx context.Context, id string) (*model.Branch, error) {
	var b model.Branch
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) CreateBranch(ctx context.Context, b *model.Branch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

// DeleteBranch removes a branch and all its devices in one transaction and
// returns the ids of the removed devices so the caller can tear down their
// realtime nodes.
func (r *Repository) DeleteBranch(ctx context.Context, id string) ([]string, error) {
	var removed []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var devices []model.Device
		if err := tx.Select("id").Where("branch_id = ?", id).Find(&devices).Error; err != nil {
			return err
		}
		for _, d := range devices {
			removed = append(removed, d.ID)
		}
		if len(removed) > 0 {
			if err := tx.Delete(&model.Device{}, "id IN ?", removed).Error; err != nil {
				return err
			}
			if err := tx.Delete(&model.DeviceState{}, "device_id IN ?", removed).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Branch{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *Repository) ListRegions(ctx context.Context) ([]model.Region, error) {
	var regions []model.Region
	if err := r.db.WithContext(ctx).Order("name").Find(&regions).Error; err != nil {
		return nil, err
	}
	return regions, nil
}

func (r *Repository) CreateRegion(ctx context.Context, reg *model.Region) error {
	return r.db.WithContext(ctx).Create(reg).Error
}

// AppendLog inserts an activity log row. The timestamp column is filled by
// the database default so log order reflects server time, not writer clocks.
func (r *Repository) AppendLog(ctx context.Context, entry *model.ActivityLog) error {
	entry.Timestamp = time.Time{}
	return r.db.WithContext(ctx).Omit("timestamp").Create(entry).Error
}

func (r *Repository) ListLogs(ctx context.Context, deviceID string, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []model.ActivityLog
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *Repository) SaveDeviceState(ctx context.Context, deviceID string, state []byte) error {
	return r.db.WithContext(ctx).
		Exec(`INSERT INTO device_states (device_id, state, updated_at) VALUES (?, ?, now())
ON CONFLICT (device_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
			deviceID, datatypes.JSON(state)).Error
}

func (r *Repository) GetDeviceState(ctx context.Context, deviceID string) ([]byte, error) {
	var s model.DeviceState
	err := r.db.WithContext(ctx).First(&s, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(s.State), nil
}
