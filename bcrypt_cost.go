//go:build !race

package tenantauth

func passwordHashCost() int {
	return 12
}
