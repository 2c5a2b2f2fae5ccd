package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/openintel/internal/model"
)

// Repository は監査ログの永続化インターフェース。
type Repository interface {
	// Insert は監査ログを1件保存する。
	Insert(ctx context.Context, rec Record) error
	// ListRecent は新しい順に最大limit件を返す。
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	// DeleteOlderThan は保持日数を超過した監査ログを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// PostgresRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo はPostgresRepoを生成する。
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Insert は監査ログを1件保存する。
func (r *PostgresRepo) Insert(ctx context.Context, rec Record) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("監査ログ要約のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO searches (id, search_type, search_value, risk_score, risk_tier, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.SearchType, rec.SearchValue, rec.RiskScore, rec.RiskTier, summary, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("監査ログの保存に失敗しました: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件の監査ログを返す。
func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, search_type, search_value, risk_score, risk_tier, summary, created_at
		 FROM searches
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var summary []byte
		if err := rows.Scan(
			&rec.ID, &rec.SearchType, &rec.SearchValue,
			&rec.RiskScore, &rec.RiskTier, &summary, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("監査ログのスキャンに失敗しました: %w", err)
		}
		if len(summary) > 0 {
			if err := json.Unmarshal(summary, &rec.Summary); err != nil {
				return nil, fmt.Errorf("監査ログ要約のデコードに失敗しました: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監査ログの走査に失敗しました: %w", err)
	}
	return records, nil
}

// DeleteOlderThan はcreated_atが保持日数より古い監査ログを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (r *PostgresRepo) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM searches WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d days", days),
	)
	if err != nil {
		return 0, fmt.Errorf("監査ログの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// NopRepo は永続化先が構成されていない場合のリポジトリ。
// 書き込みは破棄し、参照は空の結果を返す。
type NopRepo struct{}

// Insert は何もしない。
func (NopRepo) Insert(context.Context, Record) error { return nil }

// ListRecent は常にErrPersistenceUnavailableを返す。
func (NopRepo) ListRecent(context.Context, int) ([]Record, error) {
	return nil, model.ErrPersistenceUnavailable
}

// DeleteOlderThan は何もしない。
func (NopRepo) DeleteOlderThan(context.Context, int) (int64, error) { return 0, nil }
