package repos

import (
	"context"

	"comsy.local/booking-service/internal/db/models"

	"github.com/jmoiron/sqlx"
)

// ComputerRepository handles database operations for computers.
type ComputerRepository struct {
	db *sqlx.DB
}

// NewComputerRepository creates a new ComputerRepository.
func NewComputerRepository(db *sqlx.DB) *ComputerRepository {
	return &ComputerRepository{db: db}
}

// CreateComputer registers a computer. Name and MAC address are unique.
func (r *ComputerRepository) CreateComputer(ctx context.Context, c *models.Computer) (*models.Computer, error) {
	var created models.Computer
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO computers (id, name, ip_address, mac_address, cpu, ram, storage, os,
		                        approval_state, operational_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		 RETURNING *`,
		c.ID, c.Name, c.IPAddress, c.MACAddress, c.CPU, c.RAM, c.Storage, c.OS,
		c.ApprovalState, c.OperationalStatus, c.CreatedAt,
	).StructScan(&created)
	if err != nil {
		return nil, translate(err)
	}
	return &created, nil
}

// GetComputer retrieves a computer by its ID.
func (r *ComputerRepository) GetComputer(ctx context.Context, id string) (*models.Computer, error) {
	var c models.Computer
	if err := r.db.GetContext(ctx, &c, `SELECT * FROM computers WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ListComputers returns every computer, or only approved ones.
func (r *ComputerRepository) ListComputers(ctx context.Context, approvedOnly bool) ([]models.Computer, error) {
	computers := []models.Computer{}
	query := `SELECT * FROM computers ORDER BY name`
	if approvedOnly {
		query = `SELECT * FROM computers WHERE approval_state = 'approved' ORDER BY name`
	}
	if err := r.db.SelectContext(ctx, &computers, query); err != nil {
		return nil, translate(err)
	}
	return computers, nil
}

// ApproveComputer marks a computer approved for booking.
func (r *ComputerRepository) ApproveComputer(ctx context.Context, id string) (*models.Computer, error) {
	var c models.Computer
	err := r.db.QueryRowxContext(ctx,
		`UPDATE computers SET approval_state = 'approved', updated_at = now()
		 WHERE id = $1
		 RETURNING *`,
		id,
	).StructScan(&c)
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// SetOperationalStatus overwrites the operational status unconditionally.
// Only the maintenance toggle calls it.
func (r *ComputerRepository) SetOperationalStatus(ctx context.Context, id string, status models.OperationalStatus) (*models.Computer, error) {
	var c models.Computer
	err := r.db.QueryRowxContext(ctx,
		`UPDATE computers SET operational_status = $1, updated_at = now()
		 WHERE id = $2
		 RETURNING *`,
		status, id,
	).StructScan(&c)
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ReflagOperationalStatus sets the derived status unless the computer is
// under maintenance. It reports whether the stored value changed.
func (r *ComputerRepository) ReflagOperationalStatus(ctx context.Context, id string, status models.OperationalStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE computers SET operational_status = $1, updated_at = now()
		 WHERE id = $2
		 AND operational_status <> 'maintenance'
		 AND operational_status <> $1`,
		status, id,
	)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
