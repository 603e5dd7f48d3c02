package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/dealhub/escrow-backend/internal/repository/common"
)

// TxManager даёт сервисам явную транзакционную границу:
// один публичный переход состояния - одна транзакция.
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx выполняет fn внутри одной транзакции с откатом при ошибке.
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return common.WithTransaction(ctx, m.db, fn)
}
