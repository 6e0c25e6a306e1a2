package num

import "fmt"

type ArithmeticError struct {
	Op     string
	Reason string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s: %s", e.Op, e.Reason)
}

var ErrDivisionByZero = &ArithmeticError{Op: "div", Reason: "division by zero"}
