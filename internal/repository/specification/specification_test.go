package specification

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRun builds statements against postgres without a live connection.
func dryRun(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Skipf("gorm dry run unavailable: %v", err)
	}
	return db
}

type row struct {
	Id string
}

func (row) TableName() string { return "chat_messages" }

func TestSpecifications_BuildExpectedSQL(t *testing.T) {
	db := dryRun(t)
	matchID := uuid.New()

	q := db.Model(&row{})
	for _, spec := range []Specification{
		ByMatchID{MatchID: matchID},
		OrderBy{Field: "id", Desc: true},
		Pagination{Limit: 50},
	} {
		q = spec.Apply(q)
	}
	stmt := q.Find(&[]row{}).Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, "match_id = $1")
	assert.Contains(t, sql, "ORDER BY id DESC")
	assert.Contains(t, sql, "LIMIT $2")
	assert.Equal(t, matchID, stmt.Vars[0])
}
