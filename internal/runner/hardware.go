package runner

import "strings"

// HardwareClass is the accelerator category of an instance type.
type HardwareClass string

const (
	// HardwareAccelerator is Habana Gaudi (dl1).
	HardwareAccelerator HardwareClass = "accelerator"
	// HardwareGPU is the NVIDIA P and G families.
	HardwareGPU         HardwareClass = "gpu"
	HardwareNone        HardwareClass = "none"
)

// ClassifyInstanceType derives the hardware class from the family portion
// of an instance type ('p3' in 'p3.2xlarge').
func ClassifyInstanceType(instanceType string) HardwareClass {
	family, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(instanceType)), ".")
	switch {
	case strings.Contains(family, "dl1"):
		return HardwareAccelerator
	case strings.HasPrefix(family, "p"), strings.HasPrefix(family, "g"):
		return HardwareGPU
	default:
		return HardwareNone
	}
}

// RuntimeFlags returns the 'docker run' flags exposing the class's devices
// to a container.
func (c HardwareClass) RuntimeFlags() string {
	switch c {
	case HardwareAccelerator:
		return "--runtime=habana -e HABANA_VISIBLE_DEVICES=all -e OMPI_MCA_btl_vader_single_copy_mechanism=none"
	case HardwareGPU:
		return "--gpus all"
	default:
		return ""
	}
}

// ImageFamily returns the machine image family instances of this class boot
// from.
func (c HardwareClass) ImageFamily() ImageFamily {
	switch c {
	case HardwareAccelerator:
		return imageFamilyHabana
	case HardwareGPU:
		return imageFamilyGPU
	default:
		return imageFamilyUbuntu
	}
}
