package payment

import (
	"encoding/json"
	"math"
	"reflect"
	"regexp"

	validator "github.com/go-playground/validator/v10"
)

// Bounds for package validation.
const (
	MaxPackageIDLength = 50
	MaxPrice           = 10000
	MaxCredits         = 1_000_000
)

var (
	packageIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	validate         = validator.New()
)

func init() {
	err := validate.RegisterValidation("packageid", func(fl validator.FieldLevel) bool {
		return packageIDPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
}

// ValidationResult collects every violation found in an order.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// PackageCheck is the outcome of validating a package for payment. Package is
// set only when Valid; Reason only when not.
type PackageCheck struct {
	Valid   bool
	Package Package
	Reason  string
}

func invalid(reason string) PackageCheck { return PackageCheck{Reason: reason} }

// ValidatePackageID reports whether v is a well-formed package identifier.
func ValidatePackageID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return validate.Var(s, "min=1,max=50,packageid") == nil
}

// ValidatePrice reports whether v is a finite number in (0, 10000].
func ValidatePrice(v any) bool {
	f, ok := toNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	return f > 0 && f <= MaxPrice
}

// ValidateCreditsAmount reports whether v is a whole number in (0, 1000000].
func ValidateCreditsAmount(v any) bool {
	f, ok := toNumber(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false
	}
	return f > 0 && f <= MaxCredits
}

// GetPackage returns a copy of the catalog package with id. The boolean is
// false for malformed or unknown ids.
func GetPackage(id any) (Package, bool) {
	if !ValidatePackageID(id) {
		return Package{}, false
	}
	return lookup(id.(string))
}

// ValidatePackageForPayment checks that id names a catalog package whose
// price and credits are within bounds.
func ValidatePackageForPayment(id any) PackageCheck {
	if !ValidatePackageID(id) {
		return invalid("Invalid package ID")
	}
	pkg, ok := lookup(id.(string))
	if !ok {
		return invalid("Package not found")
	}
	if !ValidatePrice(pkg.Price.Amount) {
		return invalid("Invalid package price")
	}
	if !ValidateCreditsAmount(pkg.Credits.Amount) {
		return invalid("Invalid credit amount")
	}
	return PackageCheck{Valid: true, Package: pkg}
}

// ValidatePackageObject checks the structure of a package received from the
// backend. On success the decoded package is returned.
func ValidatePackageObject(v any) PackageCheck {
	p, ok := asObject(v)
	if !ok {
		return invalid("Package must be an object")
	}
	if s, ok := p["id"].(string); !ok || s == "" {
		return invalid("Invalid package ID")
	}
	if s, ok := p["name"].(string); !ok || s == "" {
		return invalid("Invalid package name")
	}
	price, ok := p["price"].(map[string]any)
	if !ok {
		return invalid("Invalid price structure")
	}
	if f, ok := toNumber(price["amount"]); !ok || f <= 0 {
		return invalid("Invalid price amount")
	}
	credits, ok := p["credits"].(map[string]any)
	if !ok {
		return invalid("Invalid credits structure")
	}
	if f, ok := toNumber(credits["amount"]); !ok || f <= 0 {
		return invalid("Invalid credits amount")
	}

	var pkg Package
	raw, err := json.Marshal(p)
	if err == nil {
		err = json.Unmarshal(raw, &pkg)
	}
	if err != nil {
		return invalid("Package must be an object")
	}
	return PackageCheck{Valid: true, Package: pkg}
}

// ValidateOrder checks an order record and reports every violation. Inputs
// other than JSON objects (maps, structs) yield a single error.
func ValidateOrder(v any) ValidationResult {
	o, ok := asObject(v)
	if !ok {
		return ValidationResult{Errors: []string{"Order must be an object"}}
	}

	var errs []string
	if s, ok := o["id"].(string); !ok || s == "" {
		errs = append(errs, "Order ID is required and must be a string")
	}
	if s, ok := o["userId"].(string); !ok || s == "" {
		errs = append(errs, "User ID is required and must be a string")
	}
	if !ValidatePackageID(o["packageId"]) {
		errs = append(errs, "Invalid or missing package ID")
	}
	pay, _ := o["payment"].(map[string]any)
	if pay == nil || !ValidatePrice(pay["amount"]) {
		errs = append(errs, "Invalid payment amount")
	}
	if pay != nil {
		if hash, _ := pay["transactionHash"].(string); hash != "" {
			chain, _ := pay["chainUsed"].(string)
			if ValidateTxHash(chain, hash) != nil {
				errs = append(errs, "Invalid transaction hash")
			}
		}
	}
	credits, _ := o["credits"].(map[string]any)
	if credits == nil || !ValidateCreditsAmount(credits["totalCredits"]) {
		errs = append(errs, "Invalid credits amount")
	}
	status, _ := o["status"].(string)
	if !Status(status).Valid() {
		errs = append(errs, "Invalid order status")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// asObject normalises v to a JSON object. Maps are used as-is; structs and
// pointers go through a JSON round trip so field names follow json tags.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return t, t != nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct && rv.Kind() != reflect.Map {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// toNumber extracts a float from any Go numeric value or json.Number.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
