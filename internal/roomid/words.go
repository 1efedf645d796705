package roomid

// Words are short, lowercase and unique across lists, so an id read aloud
// across a room is hard to mishear.

var colors = []string{
	"amber", "azure", "bronze", "cobalt", "copper", "coral", "crimson", "ebony", "emerald", "golden",
	"hazel", "indigo", "ivory", "jade", "lilac", "maroon", "ochre", "olive", "pearl", "plum",
	"rust", "sable", "scarlet", "silver", "teal", "umber", "violet", "russet",
}

var optics = []string{
	"lens", "prism", "shutter", "aperture", "focus", "mirror", "flash", "frame", "pixel", "zoom",
	"tripod", "filter", "iris", "beam", "glint", "halo", "glow", "flare", "shadow", "spark",
	"sensor", "negative", "exposure", "viewfinder", "spotlight", "lantern", "candle", "ember",
}

var birds = []string{
	"heron", "kestrel", "falcon", "osprey", "plover", "wren", "finch", "magpie", "raven", "swift",
	"egret", "ibis", "lark", "oriole", "puffin", "stork", "tern", "thrush", "warbler", "condor",
	"curlew", "dunlin", "gannet", "hoopoe", "jay", "kite", "merlin", "petrel",
}

var places = []string{
	"harbor", "meadow", "canyon", "glacier", "island", "lagoon", "mesa", "orchard", "prairie", "quarry",
	"ridge", "summit", "tundra", "valley", "delta", "fjord", "grove", "marsh", "oasis", "reef",
	"bayou", "cove", "dune", "forest", "hollow", "inlet", "plateau", "steppe",
}

var moods = []string{
	"brave", "calm", "clever", "eager", "gentle", "happy", "jolly", "keen", "lively", "merry",
	"nimble", "proud", "quiet", "rapid", "sunny", "tidy", "vivid", "witty", "bold", "cosy",
	"daring", "fuzzy", "humble", "mellow", "plucky", "sleepy", "snappy", "zesty",
}
