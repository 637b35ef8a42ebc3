package rule

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/service/order/domain"
)

func TestCELProductRule(t *testing.T) {
	r, err := NewCELProductRule(`product.available && product.price > 0.0`)
	require.NoError(t, err)

	ok, err := r.Allow(domain.Product{ID: 1, Available: true, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Allow(domain.Product{ID: 2, Available: false, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Allow(domain.Product{ID: 3, Available: true, Price: decimal.Zero})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELProductRuleByID(t *testing.T) {
	r, err := NewCELProductRule(`!(product.id in [13, 42])`)
	require.NoError(t, err)

	ok, err := r.Allow(domain.Product{ID: 42})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Allow(domain.Product{ID: 7})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCELProductRuleRejectsBadExpressions(t *testing.T) {
	_, err := NewCELProductRule(`product.available &&`)
	assert.Error(t, err)

	_, err = NewCELProductRule(`"not a bool"`)
	assert.Error(t, err)
}
