package extract

// valueKind is how a property's raw content is typed.
type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindDate
	// kindObject refers to another Open Graph object, kept as its URL.
	kindObject
)

type ogProperty struct {
	kind  valueKind
	array bool
}

var (
	str       = ogProperty{kind: kindString}
	strs      = ogProperty{kind: kindString, array: true}
	number    = ogProperty{kind: kindNumber}
	date      = ogProperty{kind: kindDate}
	object    = ogProperty{kind: kindObject}
	objects   = ogProperty{kind: kindObject, array: true}
	ogAliases = map[string]string{
		"soundcloud:sound": "audio",
	}
)

// ogProperties are the top-level og: fields.
var ogProperties = map[string]ogProperty{
	"title":            str,
	"type":             str,
	"url":              str,
	"description":      str,
	"locale":           str,
	"locale:alternate": strs,
	"site_name":        str,
	"image":            str,
	"image:url":        str,
	"image:secure_url": str,
	"image:type":       str,
	"image:width":      number,
	"image:height":     number,
	"video":            str,
	"video:secure_url": str,
	"video:type":       str,
	"video:width":      number,
	"video:height":     number,
	"audio":            str,
	"audio:secure_url": str,
	"audio:type":       str,
}

func videoProperties() map[string]ogProperty {
	return map[string]ogProperty{
		"video:actor":        objects,
		"video:actor:role":   str,
		"video:director":     objects,
		"video:writer":       objects,
		"video:duration":     number,
		"video:release_date": date,
		"video:tag":          strs,
	}
}

// ogTypes are the extra fields each og:type brings in.
var ogTypes = map[string]map[string]ogProperty{
	"music.song": {
		"music:duration":    number,
		"music:album":       objects,
		"music:album:disc":  number,
		"music:album:track": number,
		"music:musician":    objects,
	},
	"music.album": {
		"music:song":         objects,
		"music:song:disc":    number,
		"music:song:track":   number,
		"music:musician":     objects,
		"music:release_date": date,
	},
	"music.playlist": {
		"music:song":       objects,
		"music:song:disc":  number,
		"music:song:track": number,
		"music:creator":    object,
	},
	"music.radio_station": {
		"music:creator": object,
	},
	"video.movie": videoProperties(),
	"video.episode": func() map[string]ogProperty {
		props := videoProperties()
		props["video:series"] = object
		return props
	}(),
	"video.tv_show": videoProperties(),
	"video.other":   videoProperties(),
	"article": {
		"article:published_time":  date,
		"article:modified_time":   date,
		"article:expiration_time": date,
		"article:author":          object,
		"article:section":         str,
		"article:tag":             strs,
	},
	"book": {
		"book:author":       objects,
		"book:isbn":         str,
		"book:release_date": date,
		"book:tag":          strs,
	},
	"profile": {
		"profile:first_name": str,
		"profile:last_name":  str,
		"profile:username":   str,
		"profile:gender":     str,
	},
	"website": {},
}
