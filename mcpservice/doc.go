// Package mcpservice holds the capability side of the users server: the
// interfaces the request engine calls into and the immutable containers that
// implement them for statically declared prompts, tools and resources.
//
// Declarations are built once at startup and never change afterwards:
//
//	tools, err := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool[CreateUserArgs]("create-user", createUser,
//	        mcpservice.WithToolTitle("Create user"),
//	        mcpservice.WithToolFailureMessage("Failed to save user"),
//	    ),
//	)
//
// A repeated name within a kind fails with *DuplicateCapabilityError. Fixed
// resources and resource templates share the resource namespace.
//
// Typed tools reflect their input schema from the argument struct and
// validate calls against it before the handler runs; a mismatch is an
// *InvalidParametersError. Handler errors and panics never escape a tool:
// they are logged and replaced by the tool's failure message with isError set.
//
// Resource subscriptions are driven by ChangeSubscriber values, usually a
// ChangeNotifier that the record store pokes after every write.
package mcpservice
