package bench

import (
	"fmt"
	"os"
	"strconv"

	"github.com/behrlich/mpigo"
	"github.com/behrlich/mpigo/internal/bootstrap/fileboot"
	"github.com/behrlich/mpigo/internal/transport/tcptag"
)

// InitFromEnv brings up a Context for a benchmark binary launched as
// separate OS processes (one per rank), reading its rank, world
// size, bootstrap directory, and listen address from the same
// environment variables the C ABI shim uses (MPIGO_RANK,
// MPIGO_WORLD_SIZE, MPIGO_BOOTSTRAP_DIR, MPIGO_LISTEN_ADDR).
func InitFromEnv() (*mpigo.Context, error) {
	rank, err := strconv.Atoi(os.Getenv("MPIGO_RANK"))
	if err != nil {
		return nil, fmt.Errorf("MPIGO_RANK: %w", err)
	}
	size, err := strconv.Atoi(os.Getenv("MPIGO_WORLD_SIZE"))
	if err != nil {
		return nil, fmt.Errorf("MPIGO_WORLD_SIZE: %w", err)
	}
	dir := os.Getenv("MPIGO_BOOTSTRAP_DIR")
	if dir == "" {
		return nil, fmt.Errorf("MPIGO_BOOTSTRAP_DIR must be set")
	}
	listenAddr := os.Getenv("MPIGO_LISTEN_ADDR")
	if listenAddr == "" {
		return nil, fmt.Errorf("MPIGO_LISTEN_ADDR must be set")
	}

	boot, err := fileboot.New(dir, rank, size)
	if err != nil {
		return nil, fmt.Errorf("fileboot: %w", err)
	}
	worker, err := tcptag.NewWorker(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("tcptag: %w", err)
	}
	return mpigo.Init(boot, worker, mpigo.Config{})
}
