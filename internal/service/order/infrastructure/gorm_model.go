package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TotalItems     int             `gorm:"not null"`
	Status         string          `gorm:"type:varchar(16);not null;index:idx_orders_status_created,priority:1"`
	Paid           bool            `gorm:"not null"`
	PaidAt         *time.Time
	StripeChargeID *string   `gorm:"type:varchar(255)"`
	Version        int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"index:idx_orders_status_created,priority:2"`
	UpdatedAt      time.Time

	// 关联关系
	Items   []OrderItemModel   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Receipt *OrderReceiptModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应数据库中的 order_items 表
type OrderItemModel struct {
	ID        uint            `gorm:"primaryKey"`
	OrderID   string          `gorm:"type:varchar(36);not null;index"`
	ProductID int64           `gorm:"not null"`
	Quantity  int             `gorm:"not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}

// OrderReceiptModel 对应数据库中的 order_receipts 表，order_id 唯一保证每个订单至多一张收据
type OrderReceiptModel struct {
	ID         uint   `gorm:"primaryKey"`
	OrderID    string `gorm:"type:varchar(36);not null;uniqueIndex"`
	ReceiptURL string `gorm:"type:varchar(1024);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (OrderReceiptModel) TableName() string {
	return "order_receipts"
}
