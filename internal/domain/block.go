package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type SubjectKind string

const (
	SubjectCustomer SubjectKind = "customer"
	SubjectArtisan  SubjectKind = "artisan"
)

// Subject identifies an account that can be blocked.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   int64       `json:"id"`
}

func CustomerSubject(id int64) Subject { return Subject{Kind: SubjectCustomer, ID: id} }

func ArtisanSubject(id int64) Subject { return Subject{Kind: SubjectArtisan, ID: id} }

func (s Subject) String() string {
	return string(s.Kind) + ":" + strconv.FormatInt(s.ID, 10)
}

// ParseSubject builds a Subject from its path representation.
func ParseSubject(kind, id string) (Subject, error) {
	k := SubjectKind(kind)
	if k != SubjectCustomer && k != SubjectArtisan {
		return Subject{}, fmt.Errorf("unknown subject kind %q", kind)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Subject{}, fmt.Errorf("invalid subject id %q", id)
	}
	return Subject{Kind: k, ID: n}, nil
}

// BlockRecord is one entry of the account blocking ledger. A record is
// active while UnblockedAt is nil.
type BlockRecord struct {
	ID              int64           `json:"id"`
	Subject         Subject         `json:"subject"`
	Reason          string          `json:"reason"`
	RequiredPayment decimal.Decimal `json:"required_payment"`
	OrderID         *int64          `json:"order_id,omitempty"`
	BlockUntil      *time.Time      `json:"block_until,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UnblockedAt     *time.Time      `json:"unblocked_at,omitempty"`
}

func (b *BlockRecord) Active() bool {
	return b.UnblockedAt == nil
}
