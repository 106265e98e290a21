package orchestrator

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// hostFreeMemory reports available host memory. Provisioning is refused when
// headroom is below the configured floor, so an overloaded host sheds work
// instead of OOM-killing sandboxes mid-run.
func hostFreeMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read host memory: %w", err)
	}
	return vm.Available, nil
}
