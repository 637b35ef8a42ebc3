// internal/service/order/infrastructure/rule/cel_product_rule.go
package rule

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"orderflow/internal/service/order/domain"
)

// CELProductRule 是 port.ProductRule 的实现，用 CEL 表达式判断商品是否允许下单。
// 表达式中可使用 product.id / product.name / product.price / product.available。
type CELProductRule struct {
	expr    string
	program cel.Program
}

// NewCELProductRule 编译表达式。表达式的结果类型必须是 bool。
func NewCELProductRule(expr string) (*CELProductRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("product", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile product rule %q: %w", expr, iss.Err())
	}
	if out := ast.OutputType().String(); out != "bool" && out != "dyn" {
		return nil, fmt.Errorf("product rule %q must evaluate to bool, got %s", expr, out)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CELProductRule{expr: expr, program: program}, nil
}

func (r *CELProductRule) Allow(p domain.Product) (bool, error) {
	price, _ := p.Price.Float64()
	out, _, err := r.program.Eval(map[string]any{
		"product": map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"price":     price,
			"available": p.Available,
		},
	})
	if err != nil {
		return false, fmt.Errorf("evaluate product rule %q: %w", r.expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("product rule %q returned %T, want bool", r.expr, out.Value())
	}
	return allowed, nil
}
