// Package ports declares the interfaces between the application core and its
// adapters (event hub, execution store, graph store, metrics). Concrete
// implementations live under pkg/adapters.
package ports
