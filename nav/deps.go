package nav

import "pkt.systems/pslog"

// ServiceDeps captures optional dependencies for the navigation service.
type ServiceDeps struct {
	Modules   ModuleSource
	Profiles  ProfileSource
	Routers   RouterProvider
	Views     *ViewTable
	EventSink EventSink
	Logger    pslog.Logger
}
