package repository

import (
	"testing"
	"time"
)

// PostgresSubscriptionRepoはSubscriptionRepositoryインターフェースを満たすことを検証
func TestPostgresSubscriptionRepo_ImplementsInterface(t *testing.T) {
	var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
}

// 各リポジトリがインターフェースを満たすことを検証
func TestRepositories_ImplementInterfaces(t *testing.T) {
	var _ TemplateRepository = (*PostgresTemplateRepo)(nil)
	var _ DesignRepository = (*PostgresDesignRepo)(nil)
	var _ OutputRepository = (*PostgresOutputRepo)(nil)
	var _ StatsRepository = (*PostgresStatsRepo)(nil)
}

func TestNullTime(t *testing.T) {
	if nt := nullTime(time.Time{}); nt.Valid {
		t.Error("ゼロ値の時刻はNULLに変換されるべき")
	}
	now := time.Now()
	nt := nullTime(now)
	if !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTime(now) = %+v", nt)
	}
}
