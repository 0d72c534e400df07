package main

import (
	"jogarm"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: jogarm.Model},
		resource.APIModel{API: arm.API, Model: jogarm.SimulatedArmModel},
		resource.APIModel{API: discovery.API, Model: jogarm.JogDiscoveryModel},
	)
}
