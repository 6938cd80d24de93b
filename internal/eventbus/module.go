package eventbus

import "go.uber.org/fx"

// Module provides the bus dispatcher and its external (GUI bridge) tap as
// fx singletons. The dispatcher's run loop is started by internal/lanceserver's
// module, since Server.Run owns both attaching the server's own processor
// and driving Dispatcher.Run — starting it here too would race two
// concurrent consumers of the same queue.
var Module = fx.Module("eventbus",
	fx.Provide(
		New,
		NewExternalTap,
	),
)
