package infrastructure

import (
	"orderflow/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	order := &domain.Order{
		ID:          model.ID,
		TotalAmount: model.TotalAmount,
		TotalItems:  model.TotalItems,
		Status:      domain.Status(model.Status),
		Paid:        model.Paid,
		PaidAt:      model.PaidAt,
		Version:     model.Version,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
	if model.StripeChargeID != nil {
		order.StripeChargeID = *model.StripeChargeID
	}
	if len(model.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(model.Items))
		for _, it := range model.Items {
			order.Items = append(order.Items, domain.OrderItem{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     it.Price,
			})
		}
	}
	if model.Receipt != nil {
		order.Receipt = &domain.OrderReceipt{
			OrderID:    model.Receipt.OrderID,
			ReceiptURL: model.Receipt.ReceiptURL,
			CreatedAt:  model.Receipt.CreatedAt,
		}
	}
	return order
}

// FromDomainOrder 将领域模型转换为数据库模型（含订单行，不含收据）
func FromDomainOrder(order *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		Status:      string(order.Status),
		Paid:        order.Paid,
		PaidAt:      order.PaidAt,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	if order.StripeChargeID != "" {
		ref := order.StripeChargeID
		model.StripeChargeID = &ref
	}
	for _, it := range order.Items {
		model.Items = append(model.Items, OrderItemModel{
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return model
}
