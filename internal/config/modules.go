package config

import (
	_ "github.com/any-hub/bundlehub/internal/objstore/fsbucket"
	_ "github.com/any-hub/bundlehub/internal/objstore/restbucket"
	_ "github.com/any-hub/bundlehub/internal/objstore/s3bucket"
)
