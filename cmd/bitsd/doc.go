// Command bitsd serves platform bits over HTTP. For now these are buildpacks.
//
// Requests on the private endpoint are:
//
//	PUT    /buildpacks/<guid>   upload (raw body, or "buildpack" multipart file)
//	GET    /buildpacks/<guid>   download
//	HEAD   /buildpacks/<guid>   download headers only
//	DELETE /buildpacks/<guid>   remove
//	GET    /sign/buildpacks/<guid>[?verb=put]   signed URL, needs basic auth
//
// Signed URLs have the form /signed/buildpacks/<guid>?expires=...&md5=... and
// are the only requests accepted on the public endpoint.
//
// Missing buildpacks give 404 and a JSON body describing the error. Errors in
// the storage backend give 500; the error message is included in the body
// unless BITS_ENV (or, if unset, RACK_ENV) is "production".
//
// The configuration file is in relaxed JSON (see github.com/rogpeppe/rjson):
//
//	{
//		address: "localhost:9292"
//		public_endpoint: "https://public.example.com"
//		signing: {secret: "...", username: "...", password: "..."}
//		buildpacks: {type: "s3", region: "eu-west-2", bucket: "bits", cache_size: 64}
//	}
//
// With cache_size set, up to that many buildpacks are kept in memory. Only
// buildpacks of at most cache_max_blob_size bytes (default 16 MiB) are cached.
package main // import "github.com/nicolagi/bitsd/cmd/bitsd"
